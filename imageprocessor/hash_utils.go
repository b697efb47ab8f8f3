package imageprocessor

import (
	"image"
	"math"
	"sort"

	"memfinder/hashing"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultHashSize gives an 8x8 coefficient block and a 64-bit fingerprint
const DefaultHashSize = 8

// highFreqFactor sets the working resolution to hashSize*4 per side, enough
// for the DCT to separate low-frequency structure from detail.
const highFreqFactor = 4

// MaxHashSize keeps fingerprints within what an index file accepts
const MaxHashSize = 64

// ValidateHashSize rejects hash sizes that cannot produce a fingerprint with
// at least one non-DC coefficient, or that are larger than MaxHashSize
func ValidateHashSize(hashSize int) error {
	if hashSize < 2 {
		return errors.Errorf("hash size must be at least 2, got %d", hashSize)
	}
	if hashSize > MaxHashSize {
		return errors.Errorf("hash size must be at most %d, got %d", MaxHashSize, hashSize)
	}
	return nil
}

// ComputePerceptualHash computes the DCT-based perceptual hash of img with a
// hashSize x hashSize coefficient block. The result is a pure function of the
// pixels and hashSize.
func ComputePerceptualHash(img gocv.Mat, hashSize int) (hashing.Fingerprint, error) {
	if err := ValidateHashSize(hashSize); err != nil {
		return hashing.Fingerprint{}, err
	}

	gray, err := toGray(img)
	if err != nil {
		return hashing.Fingerprint{}, newDecodeError("image", err)
	}
	defer gray.Close()

	side := hashSize * highFreqFactor
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: side, Y: side}, 0, 0, gocv.InterpolationArea)

	floatImg := gocv.NewMat()
	defer floatImg.Close()
	resized.ConvertTo(&floatImg, gocv.MatTypeCV32F)

	dct := gocv.NewMat()
	defer dct.Close()
	gocv.DCT(floatImg, &dct, gocv.DftForward)

	var block [][]float64
	if dct.Empty() {
		block = applyDCT(floatImg, hashSize)
	} else {
		block = lowFrequencyBlock(dct, hashSize)
	}

	return binarize(block), nil
}

// lowFrequencyBlock copies the top-left n x n coefficients of an orthonormal
// OpenCV DCT, rescaling row 0 and column 0 by sqrt(2) so every coefficient
// shares one scale factor (the unnormalized DCT-II convention).
func lowFrequencyBlock(dct gocv.Mat, n int) [][]float64 {
	block := make([][]float64, n)
	for u := 0; u < n; u++ {
		block[u] = make([]float64, n)
		for v := 0; v < n; v++ {
			c := float64(dct.GetFloatAt(u, v))
			if u == 0 {
				c *= math.Sqrt2
			}
			if v == 0 {
				c *= math.Sqrt2
			}
			block[u][v] = c
		}
	}
	return block
}

// applyDCT computes the top-left n x n unnormalized DCT-II coefficients of a
// single-channel float32 image directly. Used when OpenCV returns no output.
func applyDCT(img gocv.Mat, n int) [][]float64 {
	rows, cols := img.Rows(), img.Cols()

	// Transform along columns first, keeping only the n lowest frequencies
	partial := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		partial[i] = make([]float64, n)
		for v := 0; v < n; v++ {
			var sum float64
			for j := 0; j < cols; j++ {
				sum += float64(img.GetFloatAt(i, j)) * math.Cos(math.Pi*float64(v)*(2*float64(j)+1)/(2*float64(cols)))
			}
			partial[i][v] = sum
		}
	}

	block := make([][]float64, n)
	for u := 0; u < n; u++ {
		block[u] = make([]float64, n)
		for v := 0; v < n; v++ {
			var sum float64
			for i := 0; i < rows; i++ {
				sum += partial[i][v] * math.Cos(math.Pi*float64(u)*(2*float64(i)+1)/(2*float64(rows)))
			}
			block[u][v] = sum
		}
	}
	return block
}

// binarize sets bit (u, v) when the coefficient is at or above the median of
// the block. The DC term is left out of the median so its magnitude does not
// skew the threshold.
func binarize(block [][]float64) hashing.Fingerprint {
	n := len(block)
	values := make([]float64, 0, n*n-1)
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			if u == 0 && v == 0 {
				continue
			}
			values = append(values, block[u][v])
		}
	}
	median := calculateMedian(values)

	bits := make([]bool, 0, n*n)
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			bits = append(bits, block[u][v] >= median)
		}
	}
	return hashing.FromBits(bits)
}

// calculateMedian calculates the median value of a float64 slice
func calculateMedian(values []float64) float64 {
	// Make a copy to avoid modifying the original slice
	valuesCopy := make([]float64, len(values))
	copy(valuesCopy, values)
	sort.Float64s(valuesCopy)

	length := len(valuesCopy)
	if length == 0 {
		return 0
	} else if length%2 == 0 {
		return (valuesCopy[length/2-1] + valuesCopy[length/2]) / 2
	}
	return valuesCopy[length/2]
}

// toGray returns a single-channel copy of img. The caller closes it.
func toGray(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), errors.New("cannot process empty image")
	}

	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 3:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		return gocv.NewMat(), errors.Errorf("unsupported channel count %d", img.Channels())
	}
	return gray, nil
}
