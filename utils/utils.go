package utils

import (
	"fmt"
	"io"
	"os"
	"time"

	"memfinder/detector"
	"memfinder/imageprocessor"
	"memfinder/scanner"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Commands lists the supported subcommands
var Commands = []string{"index", "scan", "compare"}

// Options holds every command-line setting of one invocation
type Options struct {
	Command string

	Corpus      string
	URLs        string
	Targets     []string
	IndexPath   string
	MappingPath string

	HashSize  int
	Hamming   int
	SSIM      float64
	TopK      int
	Staleness string
	Force     bool
	Workers   int
	Timeout   time.Duration

	// compare only
	Images    []string
	Threshold int

	Debug   bool
	LogFile string
}

// NewFlagSet returns the flag set for command, bound to opts
func NewFlagSet(command string, opts *Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.IntVar(&opts.HashSize, "hash-size", imageprocessor.DefaultHashSize, "fingerprint grid side N (N*N bits)")
	fs.DurationVar(&opts.Timeout, "timeout", imageprocessor.DefaultFetchTimeout, "per-request timeout for URL sources")

	switch command {
	case "index", "scan":
		fs.StringVar(&opts.Corpus, "corpus", "", "directory of corpus images (.png, .jpg, .jpeg)")
		fs.StringVar(&opts.URLs, "urls", "", "text file with one corpus image URL per line")
		fs.StringVar(&opts.IndexPath, "index", detector.DefaultIndexPath, "binary index file")
		fs.StringVar(&opts.MappingPath, "mapping", detector.DefaultMappingPath, "index position to identifier mapping file")
		fs.StringVar(&opts.Staleness, "staleness", "never", "when to rebuild a persisted index: never, manifest or always")
		fs.BoolVar(&opts.Force, "force", false, "rebuild the index even if a persisted one exists")
		fs.IntVar(&opts.Workers, "workers", 0, "parallel workers (default: 3/4 of the CPUs)")
	case "compare":
		fs.IntVar(&opts.Threshold, "threshold", detector.DefaultCompareThreshold, "maximum fingerprint distance to call the images similar")
	}

	if command == "scan" {
		fs.StringArrayVar(&opts.Targets, "target", nil, "image path or URL to check (repeatable)")
		fs.IntVar(&opts.Hamming, "hamming", detector.DefaultHammingThreshold, "maximum fingerprint distance for a candidate")
		fs.Float64Var(&opts.SSIM, "ssim", detector.DefaultSSIMThreshold, "minimum structural similarity to confirm memorization")
		fs.IntVar(&opts.TopK, "topk", detector.DefaultTopK, "neighbors fetched per variant fingerprint")
	}

	fs.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	fs.StringVar(&opts.LogFile, "logfile", "", "also write the log to this file")
	return fs
}

// ParseArguments parses args (without the program name) into Options.
// pflag.ErrHelp is returned when help was requested.
func ParseArguments(args []string) (*Options, error) {
	if len(args) == 0 {
		return nil, errors.New("missing command")
	}
	opts := &Options{Command: args[0]}
	if !isCommand(opts.Command) {
		if opts.Command == "-h" || opts.Command == "--help" || opts.Command == "help" {
			return nil, pflag.ErrHelp
		}
		return nil, errors.Errorf("unknown command %q", opts.Command)
	}

	fs := NewFlagSet(opts.Command, opts)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	switch opts.Command {
	case "index":
		if fs.NArg() > 0 {
			return nil, errors.Errorf("unexpected arguments %v", fs.Args())
		}
	case "scan":
		// positional arguments are targets too
		opts.Targets = append(opts.Targets, fs.Args()...)
		if len(opts.Targets) == 0 {
			return nil, errors.New("scan needs at least one --target")
		}
	case "compare":
		opts.Images = fs.Args()
		if len(opts.Images) != 2 {
			return nil, errors.Errorf("compare needs exactly 2 images, got %d", len(opts.Images))
		}
	}

	if opts.Command != "compare" && opts.Corpus == "" && opts.URLs == "" {
		return nil, errors.New("set --corpus, --urls or both")
	}
	return opts, nil
}

func isCommand(s string) bool {
	for _, c := range Commands {
		if c == s {
			return true
		}
	}
	return false
}

// DetectorConfig maps the options onto a detector configuration
func (o *Options) DetectorConfig() (detector.Config, error) {
	staleness, err := scanner.ParseStaleness(o.Staleness)
	if err != nil {
		return detector.Config{}, err
	}
	if o.Force {
		staleness = scanner.StaleAlways
	}

	cfg := detector.DefaultConfig()
	cfg.CorpusDir = o.Corpus
	cfg.URLList = o.URLs
	cfg.IndexPath = o.IndexPath
	cfg.MappingPath = o.MappingPath
	cfg.Staleness = staleness
	cfg.HashSize = o.HashSize
	if o.Command == "scan" {
		cfg.HammingThreshold = o.Hamming
		cfg.SSIMThreshold = o.SSIM
		cfg.TopK = o.TopK
	}
	if o.Workers > 0 {
		cfg.Workers = o.Workers
	}
	cfg.FetchTimeout = o.Timeout
	cfg.DebugMode = o.Debug
	cfg.Progress = os.Stderr
	return cfg, cfg.Validate()
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage(w io.Writer) {
	prog := "memfinder"
	if len(os.Args) > 0 {
		prog = os.Args[0]
	}
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s index   --corpus=DIR [--urls=FILE] [flags]\n", prog)
	fmt.Fprintf(w, "  %s scan    --corpus=DIR [--urls=FILE] --target=IMAGE [--target=IMAGE ...] [flags]\n", prog)
	fmt.Fprintf(w, "  %s compare IMAGE IMAGE [--threshold=N] [flags]\n", prog)
	for _, c := range Commands {
		var opts Options
		fs := NewFlagSet(c, &opts)
		fmt.Fprintf(w, "\n%s flags:\n%s", c, fs.FlagUsages())
	}
	fmt.Fprintf(w, "\nImages may be local paths or http(s) URLs.\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s index --corpus=/data/train --urls=urls.txt\n", prog)
	fmt.Fprintf(w, "  %s scan --corpus=/data/train --target=sample.png --hamming=6 --ssim=0.5\n", prog)
	fmt.Fprintf(w, "  %s compare a.png https://example.com/b.jpg\n", prog)
}

// FormatReportRow renders one candidate as a report table row
func FormatReportRow(identifier string, distance int, ssim float64, verdict string) string {
	return fmt.Sprintf("%-50s | %4d | %6.4f | %s", truncateLeft(identifier, 50), distance, ssim, verdict)
}

// ReportHeader is the header line of the report table
func ReportHeader() string {
	return fmt.Sprintf("%-50s | %4s | %6s | %s", "FILE", "DIST", "SSIM", "RESULT")
}

// truncateLeft keeps the end of long identifiers, where file names are
func truncateLeft(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-(n-3):])
}
