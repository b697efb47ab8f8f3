package scanner

import (
	"fmt"
	"io"
	"time"

	"memfinder/logging"

	"github.com/schollz/progressbar/v3"
)

// NewProgressTracker initializes the progress tracker. With a nil writer only
// the counters are kept.
func NewProgressTracker(stats FileStats, w io.Writer) *ProgressTracker {
	tracker := &ProgressTracker{}
	if w != nil {
		tracker.bar = progressbar.NewOptions(stats.totalFiles,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Indexing corpus"),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		)
	}
	return tracker
}

// Record updates the tracker state for one finished item
func (p *ProgressTracker) Record(result ProcessImageResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	if !result.Success {
		p.errors++
	}
	logging.LogImageProcessed(result.Source.Identifier(), result.Error)

	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Stop ends the progress display
func (p *ProgressTracker) Stop() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Counts returns the number of processed and failed items so far
func (p *ProgressTracker) Counts() (processed, errors int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.errors
}

// PrintStartupInfo logs information about the build before starting
func PrintStartupInfo(stats FileStats, options BuildOptions) {
	logging.LogInfo("Starting index build: %d corpus items (%d local files, %d URLs), hash size %d",
		stats.totalFiles, stats.localFiles, stats.urls, options.HashSize)
	if options.DebugMode {
		logging.DebugLog("Using %d workers", options.MaxWorkers)
	}
}

// PrintCompletionStats logs statistics after the build
func PrintCompletionStats(tracker *ProgressTracker, startTime time.Time) {
	processed, errors := tracker.Counts()
	elapsed := time.Since(startTime)

	logging.LogInfo("Fingerprinted %d/%d corpus items in %v", processed-errors, processed, elapsed.Round(time.Millisecond))
	if errors > 0 {
		logging.LogWarning("Skipped %d unreadable items; check the log for details", errors)
	}
}
