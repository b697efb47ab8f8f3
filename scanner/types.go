package scanner

import (
	"context"
	"io"
	"sync"

	"memfinder/types"

	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"
)

// Decoder turns a Source into a BGR matrix. imageprocessor.Loader is the
// production implementation.
type Decoder interface {
	Decode(ctx context.Context, src types.Source) (gocv.Mat, error)
}

// BuildOptions defines the options for building an index
type BuildOptions struct {
	HashSize   int
	MaxWorkers int       // <= 0 means signalhandler.GetOptimalProcs()
	Progress   io.Writer // nil disables the progress bar
	DebugMode  bool
}

// ProcessImageResult holds the result of fingerprinting one corpus item
type ProcessImageResult struct {
	Source  types.Source
	Success bool
	Error   error
}

// FileStats tracks information about the corpus to be processed
type FileStats struct {
	totalFiles int
	localFiles int
	urls       int
}

// ProgressTracker tracks progress of the build operation
type ProgressTracker struct {
	processed int
	errors    int
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
}
