package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SourceKind discriminates the variants of Source
type SourceKind int

const (
	// LocalPath is an image file on disk
	LocalPath SourceKind = iota
	// RemoteURL is an http(s) URL fetched with a bounded timeout
	RemoteURL
	// InMemoryBytes is an already-read encoded image
	InMemoryBytes
)

func (k SourceKind) String() string {
	switch k {
	case LocalPath:
		return "path"
	case RemoteURL:
		return "url"
	case InMemoryBytes:
		return "bytes"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// Source identifies where an image comes from. Kind selects which of the
// other fields is meaningful.
type Source struct {
	Kind SourceKind
	Path string
	URL  string
	Data []byte
	// Name labels in-memory sources in logs and reports
	Name string
}

// PathSource returns a LocalPath source
func PathSource(path string) Source {
	return Source{Kind: LocalPath, Path: path}
}

// URLSource returns a RemoteURL source
func URLSource(url string) Source {
	return Source{Kind: RemoteURL, URL: url}
}

// BytesSource returns an InMemoryBytes source labelled with name
func BytesSource(name string, data []byte) Source {
	return Source{Kind: InMemoryBytes, Name: name, Data: data}
}

// ParseSource maps a command-line style string to a Source: strings starting
// with http:// or https:// are URLs, everything else is a local path.
func ParseSource(s string) Source {
	if IsURL(s) {
		return URLSource(s)
	}
	return PathSource(s)
}

// IsURL reports whether s is an http or https URL
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Identifier is the string stored in the index mapping for this source
func (s Source) Identifier() string {
	switch s.Kind {
	case LocalPath:
		return s.Path
	case RemoteURL:
		return s.URL
	default:
		return s.Name
	}
}

// SameEntity reports whether identifier refers to the same image as s.
// Local paths are compared in absolute, cleaned form.
func (s Source) SameEntity(identifier string) bool {
	switch s.Kind {
	case LocalPath:
		if IsURL(identifier) {
			return false
		}
		return absPath(s.Path) == absPath(identifier)
	case RemoteURL:
		return s.URL == identifier
	default:
		return s.Name != "" && s.Name == identifier
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

// CorpusEntry is one indexed image: the position in the index is implied by
// insertion order.
type CorpusEntry struct {
	Identifier string `json:"identifier"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// Verdict is the outcome of the verification stage
type Verdict string

const (
	Memorized Verdict = "MEMORIZED"
	Pass      Verdict = "PASS"
)

// MatchCandidate holds the scores for one candidate that passed the
// fingerprint distance filter
type MatchCandidate struct {
	Identifier string
	Variant    string
	Distance   int
	SSIMScore  float64
	Verdict    Verdict
}

// Report is the terminal output of one scan
type Report struct {
	Target     string
	Candidates []MatchCandidate
	Memorized  int
}
