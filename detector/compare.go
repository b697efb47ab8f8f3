package detector

import (
	"context"

	"memfinder/hashing"
	"memfinder/imageprocessor"
	"memfinder/types"

	"github.com/pkg/errors"
)

// Comparison is the result of checking two images against each other
// without an index
type Comparison struct {
	HashA    string
	HashB    string
	Distance int
	// BestVariant is the transform of B whose fingerprint is closest to A
	BestVariant  string
	BestDistance int
	SSIM         float64
	Threshold    int
	Similar      bool // Distance <= Threshold
}

// Compare fingerprints a and b with the default hash size and reports their
// distance and structural similarity
func Compare(ctx context.Context, a, b types.Source, threshold int) (*Comparison, error) {
	return CompareWith(ctx, &imageprocessor.Loader{}, imageprocessor.DefaultHashSize, a, b, threshold)
}

// CompareWith is Compare with an explicit loader and hash size
func CompareWith(ctx context.Context, loader *imageprocessor.Loader, hashSize int, a, b types.Source, threshold int) (*Comparison, error) {
	if err := imageprocessor.ValidateHashSize(hashSize); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if threshold < 0 || threshold > hashSize*hashSize {
		return nil, errors.Wrapf(ErrInvalidConfig, "threshold %d outside [0, %d]", threshold, hashSize*hashSize)
	}

	imgA, err := loader.Decode(ctx, a)
	if err != nil {
		return nil, err
	}
	defer imgA.Close()

	imgB, err := loader.Decode(ctx, b)
	if err != nil {
		return nil, err
	}
	defer imgB.Close()

	hashA, err := imageprocessor.ComputePerceptualHash(imgA, hashSize)
	if err != nil {
		return nil, err
	}
	variantsB, err := imageprocessor.ComputeVariantSet(imgB, hashSize)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		HashA:     hashA.String(),
		HashB:     variantsB[0].Fingerprint.String(),
		Threshold: threshold,
	}
	for i, v := range variantsB {
		dist, err := hashing.Distance(hashA, v.Fingerprint)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			cmp.Distance = dist
		}
		if i == 0 || dist < cmp.BestDistance {
			cmp.BestVariant, cmp.BestDistance = v.Transform.String(), dist
		}
	}
	cmp.Similar = cmp.Distance <= threshold

	cmp.SSIM, err = imageprocessor.ComputeSSIM(imgA, imgB)
	if err != nil {
		return nil, err
	}
	return cmp, nil
}
