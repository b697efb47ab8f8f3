package scanner

import (
	"context"
	"runtime/debug"
	"time"

	"memfinder/hashing"
	"memfinder/imageprocessor"
	"memfinder/index"
	"memfinder/logging"
	"memfinder/signalhandler"
	"memfinder/types"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BuildIndex fingerprints every source and returns an index holding the
// readable ones in input order. Unreadable sources are logged and skipped; a
// corpus without a single readable image yields an empty index. Only context
// cancellation or an invalid hash size fail the build.
func BuildIndex(ctx context.Context, dec Decoder, sources []types.Source, options BuildOptions) (*index.BinaryIndex, error) {
	if options.HashSize == 0 {
		options.HashSize = imageprocessor.DefaultHashSize
	}
	if err := imageprocessor.ValidateHashSize(options.HashSize); err != nil {
		return nil, err
	}
	if options.MaxWorkers <= 0 {
		options.MaxWorkers = signalhandler.GetOptimalProcs()
	}

	stats := countSources(sources)
	PrintStartupInfo(stats, options)

	tracker := NewProgressTracker(stats, options.Progress)
	startTime := time.Now()

	// slot i belongs to sources[i], so insertion order does not depend on
	// which worker finishes first
	fps := make([]hashing.Fingerprint, len(sources))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(options.MaxWorkers)
	for i, src := range sources {
		if gctx.Err() != nil {
			break
		}
		i, src := i, src
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := fingerprintSource(gctx, dec, src, options.HashSize)
			tracker.Record(ProcessImageResult{Source: src, Success: err == nil, Error: err})
			if err == nil {
				fps[i] = fp
			}
			return nil
		})
	}
	err := group.Wait()
	tracker.Stop()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, errors.Wrap(err, "index build interrupted")
	}

	idx := index.New(options.HashSize * options.HashSize)
	for i, fp := range fps {
		if fp.IsZero() {
			continue
		}
		if _, err := idx.Add(fp, sources[i].Identifier()); err != nil {
			return nil, err
		}
	}

	PrintCompletionStats(tracker, startTime)
	return idx, nil
}

// fingerprintSource decodes one source and computes its fingerprint. Panics
// raised inside the cgo image layer are turned into a DecodeError for the item.
func fingerprintSource(ctx context.Context, dec Decoder, src types.Source, hashSize int) (fp hashing.Fingerprint, err error) {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := debug.Stack()
			logging.LogError("Panic during fingerprinting: %v, source: %s\nStack trace: %s", r, src.Identifier(), string(stackTrace))
			fp = hashing.Fingerprint{}
			err = &imageprocessor.DecodeError{Source: src.Identifier(), Err: errors.Errorf("panic: %v", r)}
		}
	}()

	img, err := dec.Decode(ctx, src)
	if err != nil {
		return hashing.Fingerprint{}, err
	}
	defer img.Close()

	return imageprocessor.ComputePerceptualHash(img, hashSize)
}
