package imageprocessor

import (
	"fmt"

	"memfinder/hashing"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Transform is one of the geometric edits a Variant Set covers
type Transform int

const (
	Identity Transform = iota
	Mirror
	Rotate90
	Rotate180
	Rotate270
)

// Transforms lists the variant order. It is stable and only used for
// traceability in reports.
var Transforms = []Transform{Identity, Mirror, Rotate90, Rotate180, Rotate270}

func (t Transform) String() string {
	switch t {
	case Identity:
		return "identity"
	case Mirror:
		return "mirror"
	case Rotate90:
		return "rotate90"
	case Rotate180:
		return "rotate180"
	case Rotate270:
		return "rotate270"
	default:
		return fmt.Sprintf("Transform(%d)", int(t))
	}
}

// Variant is the fingerprint of an image under one transform
type Variant struct {
	Transform   Transform
	Fingerprint hashing.Fingerprint
}

// ApplyTransform returns a transformed copy of img which the caller closes.
// Rotations are counter-clockwise. Quarter turns swap width and height, so the
// whole image stays on the canvas without any fill.
func ApplyTransform(img gocv.Mat, t Transform) gocv.Mat {
	dst := gocv.NewMat()
	switch t {
	case Mirror:
		gocv.Flip(img, &dst, 1)
	case Rotate90:
		gocv.Rotate(img, &dst, gocv.Rotate90CounterClockwise)
	case Rotate180:
		gocv.Rotate(img, &dst, gocv.Rotate180Clockwise)
	case Rotate270:
		gocv.Rotate(img, &dst, gocv.Rotate90Clockwise)
	default:
		img.CopyTo(&dst)
	}
	return dst
}

// ComputeVariantSet fingerprints img under every transform in Transforms.
// The result always has len(Transforms) entries in that order.
func ComputeVariantSet(img gocv.Mat, hashSize int) ([]Variant, error) {
	variants := make([]Variant, 0, len(Transforms))
	for _, t := range Transforms {
		transformed := ApplyTransform(img, t)
		fp, err := ComputePerceptualHash(transformed, hashSize)
		transformed.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot fingerprint %s variant", t)
		}
		variants = append(variants, Variant{Transform: t, Fingerprint: fp})
	}
	return variants, nil
}

// Fingerprints returns the fingerprints of a Variant Set in order
func Fingerprints(variants []Variant) []hashing.Fingerprint {
	fps := make([]hashing.Fingerprint, len(variants))
	for i, v := range variants {
		fps[i] = v.Fingerprint
	}
	return fps
}
