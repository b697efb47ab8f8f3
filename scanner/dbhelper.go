package scanner

import (
	"context"
	"fmt"
	"strings"

	"memfinder/imageprocessor"
	"memfinder/index"
	"memfinder/logging"
	"memfinder/types"

	"github.com/pkg/errors"
)

// Staleness decides when a consistent persisted pair is reused
type Staleness int

const (
	// StaleNever reuses any consistent pair, even if the corpus changed since
	StaleNever Staleness = iota
	// StaleManifest rebuilds when the stored corpus manifest differs from the
	// current one (identifier set, file size, modification time)
	StaleManifest
	// StaleAlways rebuilds on every run
	StaleAlways
)

func (s Staleness) String() string {
	switch s {
	case StaleNever:
		return "never"
	case StaleManifest:
		return "manifest"
	case StaleAlways:
		return "always"
	default:
		return fmt.Sprintf("Staleness(%d)", int(s))
	}
}

// ParseStaleness maps a flag value to a Staleness policy
func ParseStaleness(s string) (Staleness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never":
		return StaleNever, nil
	case "manifest":
		return StaleManifest, nil
	case "always":
		return StaleAlways, nil
	default:
		return StaleNever, errors.Errorf("unknown staleness policy %q (want never, manifest or always)", s)
	}
}

// EnsureOptions configures EnsureIndex
type EnsureOptions struct {
	BuildOptions
	IndexPath   string
	MappingPath string
	Staleness   Staleness
}

// EnsureIndex returns a ready index for sources: the persisted pair when it
// is consistent and fresh under the staleness policy, otherwise a rebuilt one
// that is persisted before returning. The bool reports whether a build ran.
func EnsureIndex(ctx context.Context, dec Decoder, sources []types.Source, options EnsureOptions) (*index.BinaryIndex, bool, error) {
	hashSize := options.HashSize
	if hashSize == 0 {
		hashSize = imageprocessor.DefaultHashSize
		options.HashSize = hashSize
	}
	manifest := Manifest(sources)

	if options.Staleness != StaleAlways {
		idx, stored, err := LoadIndex(options.IndexPath, options.MappingPath, hashSize*hashSize)
		switch {
		case err == nil && options.Staleness == StaleManifest && manifestChanged(stored, manifest, options.DebugMode):
			logging.LogInfo("Corpus changed since the index was built, rebuilding")
		case err == nil:
			logging.LogInfo("Loaded index with %d items from %s", idx.Len(), options.IndexPath)
			return idx, false, nil
		case errors.Is(err, ErrPersistenceInconsistency):
			logging.LogInfo("No usable index (%v), building", err)
		default:
			return nil, false, err
		}
	}

	idx, err := BuildIndex(ctx, dec, sources, options.BuildOptions)
	if err != nil {
		return nil, false, err
	}
	if err := SaveIndex(idx, manifest, options.IndexPath, options.MappingPath); err != nil {
		return nil, false, err
	}
	return idx, true, nil
}

// manifestChanged compares two manifests sorted by identifier. Any added,
// removed, resized or re-timestamped item counts as a change.
func manifestChanged(stored, current []types.CorpusEntry, debugMode bool) bool {
	if len(stored) != len(current) {
		if debugMode {
			logging.DebugLog("Corpus size changed: %d indexed, %d now", len(stored), len(current))
		}
		return true
	}
	for i := range stored {
		if stored[i] != current[i] {
			if debugMode {
				logging.DebugLog("Corpus item changed: %s", current[i].Identifier)
			}
			return true
		}
	}
	return false
}
