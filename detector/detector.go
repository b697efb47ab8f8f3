// Package detector drives memorization detection: it readies the corpus
// index, fingerprints a target under every geometric variant, searches the
// index and confirms close candidates with structural similarity.
package detector

import (
	"context"
	"fmt"

	"memfinder/imageprocessor"
	"memfinder/index"
	"memfinder/logging"
	"memfinder/scanner"
	"memfinder/types"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// State is a step of the detection pipeline
type State int

const (
	Idle State = iota
	IndexReady
	TargetLoaded
	Scanning
	Reported
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case IndexReady:
		return "IndexReady"
	case TargetLoaded:
		return "TargetLoaded"
	case Scanning:
		return "Scanning"
	case Reported:
		return "Reported"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidState is returned when an operation is called out of order
var ErrInvalidState = errors.New("operation not valid in current state")

// Detector runs the pipeline Idle -> IndexReady -> TargetLoaded -> Scanning
// -> Reported. Once the index is ready any number of targets can be checked
// against it; loading a new target from TargetLoaded or Reported starts over
// at TargetLoaded. A Detector is not safe for concurrent use.
type Detector struct {
	cfg    Config
	loader *imageprocessor.Loader
	state  State

	index   *index.BinaryIndex
	rebuilt bool

	target   types.Source
	variants []imageprocessor.Variant
	// transformed[i] is the target under variants[i].Transform
	transformed []gocv.Mat
	hits        [][]index.Hit

	report types.Report
}

// New validates cfg and returns an Idle detector
func New(cfg Config) (*Detector, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:    cfg,
		loader: &imageprocessor.Loader{Timeout: cfg.FetchTimeout},
	}, nil
}

// State returns the current pipeline state
func (d *Detector) State() State { return d.state }

// Index returns the corpus index, nil before LoadIndex
func (d *Detector) Index() *index.BinaryIndex { return d.index }

// Rebuilt reports whether LoadIndex had to fingerprint the corpus
func (d *Detector) Rebuilt() bool { return d.rebuilt }

func (d *Detector) expect(op string, allowed ...State) error {
	for _, s := range allowed {
		if d.state == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidState, "%s in state %v", op, d.state)
}

// LoadIndex moves Idle -> IndexReady. A consistent persisted index+mapping
// pair is reused according to the staleness policy; otherwise the corpus is
// discovered, fingerprinted and persisted.
func (d *Detector) LoadIndex(ctx context.Context) error {
	if err := d.expect("LoadIndex", Idle); err != nil {
		return err
	}

	sources, err := scanner.Discover(d.cfg.CorpusDir, d.cfg.URLList)
	if err != nil {
		return err
	}

	idx, rebuilt, err := scanner.EnsureIndex(ctx, d.loader, sources, scanner.EnsureOptions{
		BuildOptions: scanner.BuildOptions{
			HashSize:   d.cfg.HashSize,
			MaxWorkers: d.cfg.Workers,
			Progress:   d.cfg.Progress,
			DebugMode:  d.cfg.DebugMode,
		},
		IndexPath:   d.cfg.IndexPath,
		MappingPath: d.cfg.MappingPath,
		Staleness:   d.cfg.Staleness,
	})
	if err != nil {
		return err
	}

	d.index = idx
	d.rebuilt = rebuilt
	d.state = IndexReady
	return nil
}

// LoadTarget decodes the target and computes its Variant Set. A target that
// cannot be decoded leaves the state unchanged.
func (d *Detector) LoadTarget(ctx context.Context, target types.Source) error {
	if err := d.expect("LoadTarget", IndexReady, TargetLoaded, Reported); err != nil {
		return err
	}

	img, err := d.loader.Decode(ctx, target)
	if err != nil {
		return err
	}
	defer img.Close()

	variants, err := imageprocessor.ComputeVariantSet(img, d.cfg.HashSize)
	if err != nil {
		return err
	}

	d.releaseTarget()
	d.target = target
	d.variants = variants
	d.transformed = make([]gocv.Mat, len(variants))
	for i, v := range variants {
		d.transformed[i] = imageprocessor.ApplyTransform(img, v.Transform)
	}
	d.hits = nil
	d.report = types.Report{}
	d.state = TargetLoaded

	logging.DebugLog("Target %s fingerprints: %v", target.Identifier(), imageprocessor.Fingerprints(variants))
	return nil
}

// Scan queries the index with every variant fingerprint, TopK neighbors each
func (d *Detector) Scan(ctx context.Context) error {
	if err := d.expect("Scan", TargetLoaded); err != nil {
		return err
	}

	hits, err := d.index.Search(ctx, imageprocessor.Fingerprints(d.variants), d.cfg.TopK, d.cfg.Workers)
	if err != nil {
		return err
	}
	d.hits = hits
	d.state = Scanning
	return nil
}

// candidate is a raw hit that passed the distance filter
type candidate struct {
	identifier string
	variant    int
	distance   int
}

// candidates walks the raw hits in variant order, then ascending distance,
// dropping the target itself and hits beyond the distance threshold. An
// identifier can appear once per variant; Verify collapses them.
func (d *Detector) candidates() []candidate {
	var out []candidate
	for v, row := range d.hits {
		for _, h := range row {
			if h.Distance > d.cfg.HammingThreshold {
				continue
			}
			id := d.index.Identifier(h.Position)
			if d.target.SameEntity(id) {
				continue
			}
			out = append(out, candidate{identifier: id, variant: v, distance: h.Distance})
		}
	}
	return out
}

// Verify moves Scanning -> Reported: every candidate is loaded and compared
// with the target, transformed the way its matching fingerprint was, by
// structural similarity. Candidates that cannot be decoded are logged and
// left out of the report.
func (d *Detector) Verify(ctx context.Context) (types.Report, error) {
	if err := d.expect("Verify", Scanning); err != nil {
		return types.Report{}, err
	}

	cands := d.candidates()
	scores := make([]float64, len(cands))
	ok := make([]bool, len(cands))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)
	for i, c := range cands {
		i, c := i, c
		group.Go(func() error {
			score, err := d.verify(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.LogImageProcessed(c.identifier, err)
				return nil
			}
			scores[i], ok[i] = score, true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return types.Report{}, err
	}

	report := types.Report{Target: d.target.Identifier()}
	// one row per identifier: the first confirmation wins, otherwise the
	// first evaluated hit
	rows := make(map[string]int)
	for i, c := range cands {
		if !ok[i] {
			continue
		}
		verdict := types.Pass
		if scores[i] >= d.cfg.SSIMThreshold {
			verdict = types.Memorized
		}
		row := types.MatchCandidate{
			Identifier: c.identifier,
			Variant:    d.variants[c.variant].Transform.String(),
			Distance:   c.distance,
			SSIMScore:  scores[i],
			Verdict:    verdict,
		}
		j, exists := rows[c.identifier]
		switch {
		case !exists:
			rows[c.identifier] = len(report.Candidates)
			report.Candidates = append(report.Candidates, row)
		case verdict == types.Memorized && report.Candidates[j].Verdict != types.Memorized:
			report.Candidates[j] = row
		}
	}
	for _, row := range report.Candidates {
		if row.Verdict == types.Memorized {
			report.Memorized++
		}
	}

	d.report = report
	d.state = Reported
	return report, nil
}

func (d *Detector) verify(ctx context.Context, c candidate) (float64, error) {
	img, err := d.loader.Decode(ctx, types.ParseSource(c.identifier))
	if err != nil {
		return 0, err
	}
	defer img.Close()
	return imageprocessor.ComputeSSIM(d.transformed[c.variant], img)
}

// Report returns the last verified report
func (d *Detector) Report() (types.Report, error) {
	if err := d.expect("Report", Reported); err != nil {
		return types.Report{}, err
	}
	return d.report, nil
}

// Run advances from the current state to Reported for target, loading the
// index first if needed
func (d *Detector) Run(ctx context.Context, target types.Source) (types.Report, error) {
	if d.state == Idle {
		if err := d.LoadIndex(ctx); err != nil {
			return types.Report{}, err
		}
	}
	if err := d.LoadTarget(ctx, target); err != nil {
		return types.Report{}, err
	}
	if err := d.Scan(ctx); err != nil {
		return types.Report{}, err
	}
	return d.Verify(ctx)
}

func (d *Detector) releaseTarget() {
	for _, m := range d.transformed {
		m.Close()
	}
	d.transformed = nil
}

// Close releases the target matrices
func (d *Detector) Close() error {
	d.releaseTarget()
	return nil
}
