package scanner

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"memfinder/types"

	"github.com/pkg/errors"
)

// IsImageFile checks if a file extension belongs to a corpus image
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// Discover lists the corpus: image files below dir (sorted, so positions are
// reproducible across runs) followed by the URLs in urlFile. Either argument
// may be empty.
func Discover(dir, urlFile string) ([]types.Source, error) {
	var sources []types.Source

	if dir != "" {
		var paths []string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir {
					return err
				}
				// unreadable subtrees are skipped like unreadable images
				return nil
			}
			if !d.IsDir() && IsImageFile(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "cannot walk corpus directory %s", dir)
		}
		sort.Strings(paths)
		for _, p := range paths {
			sources = append(sources, types.PathSource(p))
		}
	}

	if urlFile != "" {
		f, err := os.Open(urlFile)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open URL list")
		}
		defer f.Close()

		urls, err := ReadURLList(f)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read URL list %s", urlFile)
		}
		sources = append(sources, urls...)
	}

	return sources, nil
}

// ReadURLList parses one URL per line. Only lines starting with http:// or
// https:// are kept; everything else is ignored.
func ReadURLList(r io.Reader) ([]types.Source, error) {
	var sources []types.Source
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if types.IsURL(line) {
			sources = append(sources, types.URLSource(line))
		}
	}
	return sources, sc.Err()
}

// countSources classifies the corpus for the startup summary
func countSources(sources []types.Source) FileStats {
	stats := FileStats{totalFiles: len(sources)}
	for _, s := range sources {
		if s.Kind == types.RemoteURL {
			stats.urls++
		} else {
			stats.localFiles++
		}
	}
	return stats
}

// Manifest snapshots the corpus: size and modification time for local files,
// identifier only for URLs and unreadable paths.
func Manifest(sources []types.Source) []types.CorpusEntry {
	manifest := make([]types.CorpusEntry, 0, len(sources))
	for _, s := range sources {
		entry := types.CorpusEntry{Identifier: s.Identifier()}
		if s.Kind == types.LocalPath {
			if info, err := os.Stat(s.Path); err == nil {
				entry.Size = info.Size()
				entry.ModifiedAt = info.ModTime().UTC().Format(time.RFC3339Nano)
			}
		}
		manifest = append(manifest, entry)
	}
	sort.SliceStable(manifest, func(i, j int) bool { return manifest[i].Identifier < manifest[j].Identifier })

	// a URL listed twice is one corpus item
	out := manifest[:0]
	for _, e := range manifest {
		if len(out) > 0 && e.Identifier == out[len(out)-1].Identifier {
			continue
		}
		out = append(out, e)
	}
	return out
}
