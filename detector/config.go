package detector

import (
	"io"
	"time"

	"memfinder/imageprocessor"
	"memfinder/scanner"
	"memfinder/signalhandler"

	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned by Config.Validate and New
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultHammingThreshold = 8
	DefaultSSIMThreshold    = 0.45
	DefaultTopK             = 10
	DefaultIndexPath        = "dataset.index"
	DefaultMappingPath      = "filenames.db"
	// DefaultCompareThreshold is the distance cut-off of the direct
	// two-image comparison
	DefaultCompareThreshold = 5
)

// Config is the explicit configuration of one detector run
type Config struct {
	// Corpus: an image directory, a URL list file, or both
	CorpusDir string
	URLList   string

	IndexPath   string
	MappingPath string
	Staleness   scanner.Staleness

	HashSize         int
	HammingThreshold int     // coarse filter: candidates above this distance are dropped
	SSIMThreshold    float64 // verification: scores at or above this are MEMORIZED
	TopK             int     // neighbors per variant fingerprint

	Workers      int
	FetchTimeout time.Duration
	Progress     io.Writer // index build progress bar; nil disables it
	DebugMode    bool
}

// DefaultConfig returns a Config with every tunable at its default. Only the
// corpus location is left empty.
func DefaultConfig() Config {
	cfg := Config{
		HammingThreshold: DefaultHammingThreshold,
		SSIMThreshold:    DefaultSSIMThreshold,
	}
	cfg.defaults()
	return cfg
}

// defaults fills fields whose zero value is never meaningful. Thresholds are
// left alone: zero is a valid choice for both.
func (c *Config) defaults() {
	if c.HashSize == 0 {
		c.HashSize = imageprocessor.DefaultHashSize
	}
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.IndexPath == "" {
		c.IndexPath = DefaultIndexPath
	}
	if c.MappingPath == "" {
		c.MappingPath = DefaultMappingPath
	}
	if c.Workers <= 0 {
		c.Workers = signalhandler.GetOptimalProcs()
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = imageprocessor.DefaultFetchTimeout
	}
}

// Validate reports configuration errors wrapped in ErrInvalidConfig
func (c Config) Validate() error {
	if err := imageprocessor.ValidateHashSize(c.HashSize); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	bits := c.HashSize * c.HashSize
	if c.HammingThreshold < 0 || c.HammingThreshold > bits {
		return errors.Wrapf(ErrInvalidConfig, "hamming threshold %d outside [0, %d]", c.HammingThreshold, bits)
	}
	if c.SSIMThreshold < -1 || c.SSIMThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "SSIM threshold %g outside [-1, 1]", c.SSIMThreshold)
	}
	if c.TopK < 1 {
		return errors.Wrapf(ErrInvalidConfig, "top-k %d must be positive", c.TopK)
	}
	if c.CorpusDir == "" && c.URLList == "" {
		return errors.Wrap(ErrInvalidConfig, "no corpus: set a corpus directory or a URL list")
	}
	if c.IndexPath == c.MappingPath {
		return errors.Wrap(ErrInvalidConfig, "index and mapping paths must differ")
	}
	return nil
}
