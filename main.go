package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"memfinder/database"
	"memfinder/detector"
	"memfinder/imageprocessor"
	"memfinder/logging"
	"memfinder/signalhandler"
	"memfinder/types"
	"memfinder/utils"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

func main() {
	// cgo-heavy workers do better below the full CPU count
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	opts, err := utils.ParseArguments(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			utils.PrintUsage(os.Stdout)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		utils.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	if err := logging.SetupLogger(opts.LogFile, opts.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to setup logging: %v\n", err)
	}
	defer logging.CloseLogger()

	ctx, stop := signalhandler.SetupHandler(context.Background())
	defer stop()

	switch opts.Command {
	case "index":
		err = handleIndexCommand(ctx, opts)
	case "scan":
		err = handleScanCommand(ctx, opts)
	case "compare":
		err = handleCompareCommand(ctx, opts)
	}
	if err != nil {
		logging.LogError("%s failed: %v", opts.Command, err)
		logging.CloseLogger()
		os.Exit(1)
	}
}

func newDetector(opts *utils.Options) (*detector.Detector, error) {
	cfg, err := opts.DetectorConfig()
	if err != nil {
		return nil, err
	}
	return detector.New(cfg)
}

func handleIndexCommand(ctx context.Context, opts *utils.Options) error {
	d, err := newDetector(opts)
	if err != nil {
		return err
	}
	defer d.Close()

	startTime := time.Now()
	if err := d.LoadIndex(ctx); err != nil {
		return err
	}

	if d.Rebuilt() {
		fmt.Printf("Index built with %d items\n", d.Index().Len())
	} else {
		fmt.Printf("Index loaded with %d items\n", d.Index().Len())
	}
	fmt.Printf("Index: %s\nMapping: %s\n", opts.IndexPath, opts.MappingPath)

	db, err := database.OpenDatabase(opts.MappingPath)
	if err == nil {
		defer db.Close()
		if stats, err := database.GetStats(db); err == nil {
			fmt.Printf("\nSummary:\n")
			fmt.Printf("- Corpus items: %d\n", stats.CorpusItems)
			fmt.Printf("- Indexed: %d\n", stats.Entries)
			fmt.Printf("- Skipped (unreadable): %d\n", stats.Skipped)
		}
	}
	fmt.Printf("Total execution time: %v\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func handleScanCommand(ctx context.Context, opts *utils.Options) error {
	d, err := newDetector(opts)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.LoadIndex(ctx); err != nil {
		return err
	}
	if d.Rebuilt() {
		fmt.Printf("Index built with %d items\n", d.Index().Len())
	}

	total := 0
	for _, t := range opts.Targets {
		report, err := d.Run(ctx, types.ParseSource(t))
		if err != nil {
			if imageprocessor.IsDecodeError(err) {
				// one unreadable target does not spoil the others
				logging.LogWarning("Skipping target: %v", err)
				continue
			}
			return err
		}
		printReport(report)
		total += report.Memorized
	}

	fmt.Printf("\nTotal Verified Duplicates: %d\n", total)
	return nil
}

func printReport(report types.Report) {
	fmt.Printf("\nTarget: %s\n", report.Target)
	if len(report.Candidates) == 0 {
		fmt.Println("No candidates within the distance threshold.")
		return
	}
	fmt.Println(utils.ReportHeader())
	for _, c := range report.Candidates {
		fmt.Println(utils.FormatReportRow(c.Identifier, c.Distance, c.SSIMScore, string(c.Verdict)))
	}
}

func handleCompareCommand(ctx context.Context, opts *utils.Options) error {
	loader := &imageprocessor.Loader{Timeout: opts.Timeout}
	a, b := types.ParseSource(opts.Images[0]), types.ParseSource(opts.Images[1])

	cmp, err := detector.CompareWith(ctx, loader, opts.HashSize, a, b, opts.Threshold)
	if err != nil {
		return err
	}

	fmt.Printf("Image 1 hash: %s\n", cmp.HashA)
	fmt.Printf("Image 2 hash: %s\n", cmp.HashB)
	fmt.Printf("Hamming distance: %d (threshold %d)\n", cmp.Distance, cmp.Threshold)
	if cmp.BestDistance < cmp.Distance {
		fmt.Printf("Closest variant of image 2: %s at distance %d\n", cmp.BestVariant, cmp.BestDistance)
	}
	fmt.Printf("SSIM: %.4f\n", cmp.SSIM)
	if cmp.Similar {
		fmt.Println("Result: SIMILAR")
	} else {
		fmt.Println("Result: DIFFERENT")
	}
	return nil
}
