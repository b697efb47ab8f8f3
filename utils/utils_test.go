package utils

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"memfinder/detector"
	"memfinder/scanner"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

func TestParseArguments_Scan(t *testing.T) {
	opts, err := ParseArguments([]string{
		"scan", "--corpus=/data", "--urls", "urls.txt",
		"--target=a.png", "--target", "https://example.com/b.jpg", "c.png",
		"--hamming=6", "--ssim=0.5", "--topk=20", "--staleness=manifest", "--workers=3", "--timeout=2s", "--debug",
	})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if opts.Command != "scan" || opts.Corpus != "/data" || opts.URLs != "urls.txt" {
		t.Errorf("opts = %+v", opts)
	}
	if want := []string{"a.png", "https://example.com/b.jpg", "c.png"}; !reflect.DeepEqual(opts.Targets, want) {
		t.Errorf("targets = %v, want %v", opts.Targets, want)
	}
	if opts.Hamming != 6 || opts.SSIM != 0.5 || opts.TopK != 20 || opts.Workers != 3 || opts.Timeout != 2*time.Second || !opts.Debug {
		t.Errorf("opts = %+v", opts)
	}

	cfg, err := opts.DetectorConfig()
	if err != nil {
		t.Fatalf("DetectorConfig: %v", err)
	}
	if cfg.HammingThreshold != 6 || cfg.SSIMThreshold != 0.5 || cfg.TopK != 20 || cfg.Staleness != scanner.StaleManifest || cfg.Workers != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.IndexPath != detector.DefaultIndexPath || cfg.MappingPath != detector.DefaultMappingPath {
		t.Errorf("artifact paths = %q, %q", cfg.IndexPath, cfg.MappingPath)
	}
}

func TestParseArguments_Defaults(t *testing.T) {
	opts, err := ParseArguments([]string{"index", "--corpus", "/data"})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	cfg, err := opts.DetectorConfig()
	if err != nil {
		t.Fatalf("DetectorConfig: %v", err)
	}
	want := detector.DefaultConfig()
	if cfg.HashSize != want.HashSize || cfg.HammingThreshold != want.HammingThreshold ||
		cfg.SSIMThreshold != want.SSIMThreshold || cfg.TopK != want.TopK || cfg.FetchTimeout != want.FetchTimeout {
		t.Errorf("cfg = %+v, want defaults %+v", cfg, want)
	}
	if cfg.Staleness != scanner.StaleNever {
		t.Errorf("staleness = %v", cfg.Staleness)
	}
}

func TestParseArguments_ForceRebuilds(t *testing.T) {
	opts, err := ParseArguments([]string{"index", "--corpus=/data", "--force"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := opts.DetectorConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Staleness != scanner.StaleAlways {
		t.Errorf("--force staleness = %v, want always", cfg.Staleness)
	}
}

func TestParseArguments_Compare(t *testing.T) {
	opts, err := ParseArguments([]string{"compare", "a.png", "b.png", "--threshold=7"})
	if err != nil {
		t.Fatalf("ParseArguments: %v", err)
	}
	if !reflect.DeepEqual(opts.Images, []string{"a.png", "b.png"}) || opts.Threshold != 7 {
		t.Errorf("opts = %+v", opts)
	}

	opts, err = ParseArguments([]string{"compare", "a.png", "b.png"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Threshold != detector.DefaultCompareThreshold {
		t.Errorf("default threshold = %d", opts.Threshold)
	}
}

func TestParseArguments_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"search", "--corpus=x"}},
		{"scan without target", []string{"scan", "--corpus=x"}},
		{"scan without corpus", []string{"scan", "--target=a.png"}},
		{"index with stray argument", []string{"index", "--corpus=x", "extra"}},
		{"compare with one image", []string{"compare", "a.png"}},
		{"unknown flag", []string{"index", "--corpus=x", "--bogus"}},
		{"flag of another command", []string{"index", "--corpus=x", "--ssim=0.3"}},
		{"bad int", []string{"scan", "--corpus=x", "--target=a", "--hamming=many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseArguments(tt.args); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseArguments_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"help"}, {"scan", "--help"}} {
		if _, err := ParseArguments(args); !errors.Is(err, pflag.ErrHelp) {
			t.Errorf("ParseArguments(%v) = %v, want ErrHelp", args, err)
		}
	}
}

func TestDetectorConfig_Invalid(t *testing.T) {
	tests := [][]string{
		{"scan", "--corpus=x", "--target=a", "--ssim=2"},
		{"scan", "--corpus=x", "--target=a", "--hamming=100"},
		{"index", "--corpus=x", "--staleness=sometimes"},
		{"index", "--corpus=x", "--hash-size=1"},
	}
	for _, args := range tests {
		opts, err := ParseArguments(args)
		if err != nil {
			t.Fatalf("ParseArguments(%v): %v", args, err)
		}
		if _, err := opts.DetectorConfig(); err == nil {
			t.Errorf("DetectorConfig(%v) accepted an invalid setting", args)
		}
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf)
	out := buf.String()
	for _, want := range []string{"index", "scan", "compare", "--corpus", "--target", "--threshold", "--staleness"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage is missing %q", want)
		}
	}
}

func TestFormatReportRow(t *testing.T) {
	row := FormatReportRow("/data/img.png", 3, 0.91234, "MEMORIZED")
	if !strings.Contains(row, "/data/img.png") || !strings.Contains(row, "0.9123") || !strings.HasSuffix(row, "MEMORIZED") {
		t.Errorf("row = %q", row)
	}
	if len(strings.Split(ReportHeader(), "|")) != 4 {
		t.Errorf("header = %q", ReportHeader())
	}

	long := strings.Repeat("d/", 40) + "file.png"
	row = FormatReportRow(long, 0, 1, "PASS")
	if !strings.Contains(row, "...") || !strings.Contains(row, "file.png") {
		t.Errorf("long identifier not shortened from the left: %q", row)
	}
}
