package imageprocessor

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ssimWindow is the side of the sliding window used for local statistics
const ssimWindow = 7

const (
	ssimDataRange = 255.0
	ssimC1        = (0.01 * ssimDataRange) * (0.01 * ssimDataRange)
	ssimC2        = (0.03 * ssimDataRange) * (0.03 * ssimDataRange)
)

// ComputeSSIM computes the mean structural similarity between two images.
// img2 is resized to img1's dimensions with a Lanczos filter and both are
// compared as 8-bit intensity. The score is in [-1, 1], 1 meaning identical.
// It is far more expensive than a fingerprint comparison, so callers only
// run it on candidates that already passed the distance filter.
func ComputeSSIM(img1, img2 gocv.Mat) (float64, error) {
	gray1, err := toGray(img1)
	if err != nil {
		return 0, newDecodeError("reference image", err)
	}
	defer gray1.Close()

	gray2, err := toGray(img2)
	if err != nil {
		return 0, newDecodeError("candidate image", err)
	}
	defer gray2.Close()

	rows, cols := gray1.Rows(), gray1.Cols()
	win := windowFor(rows, cols)
	if win < 3 {
		return 0, errors.Wrapf(ErrImageTooSmall, "%dx%d", cols, rows)
	}

	if gray2.Rows() != rows || gray2.Cols() != cols {
		resized := gocv.NewMat()
		gocv.Resize(gray2, &resized, image.Point{X: cols, Y: rows}, 0, 0, gocv.InterpolationLanczos4)
		gray2.Close()
		gray2 = resized
	}

	x := gocv.NewMat()
	defer x.Close()
	gray1.ConvertTo(&x, gocv.MatTypeCV64F)

	y := gocv.NewMat()
	defer y.Close()
	gray2.ConvertTo(&y, gocv.MatTypeCV64F)

	xx, yy, xy := gocv.NewMat(), gocv.NewMat(), gocv.NewMat()
	defer xx.Close()
	defer yy.Close()
	defer xy.Close()
	gocv.Multiply(x, x, &xx)
	gocv.Multiply(y, y, &yy)
	gocv.Multiply(x, y, &xy)

	ksize := image.Point{X: win, Y: win}
	means := make([]gocv.Mat, 5)
	for i, src := range []gocv.Mat{x, y, xx, yy, xy} {
		means[i] = gocv.NewMat()
		defer means[i].Close()
		gocv.Blur(src, &means[i], ksize)
	}

	planes := make([][]float64, len(means))
	for i := range means {
		data, err := means[i].DataPtrFloat64()
		if err != nil {
			return 0, errors.Wrap(err, "cannot read window statistics")
		}
		planes[i] = data
	}

	return meanSSIM(planes[0], planes[1], planes[2], planes[3], planes[4], rows, cols, win), nil
}

// windowFor shrinks the default window to the largest odd size that fits
func windowFor(rows, cols int) int {
	side := rows
	if cols < side {
		side = cols
	}
	if side >= ssimWindow {
		return ssimWindow
	}
	if side%2 == 0 {
		side--
	}
	return side
}

// meanSSIM averages the SSIM map over windows lying fully inside the image.
// Inputs are row-major window means of x, y, x*x, y*y and x*y.
func meanSSIM(ux, uy, uxx, uyy, uxy []float64, rows, cols, win int) float64 {
	pad := (win - 1) / 2
	np := float64(win * win)
	covNorm := np / (np - 1)

	var sum float64
	var count int
	for r := pad; r < rows-pad; r++ {
		for c := pad; c < cols-pad; c++ {
			i := r*cols + c
			mx, my := ux[i], uy[i]
			vx := covNorm * (uxx[i] - mx*mx)
			vy := covNorm * (uyy[i] - my*my)
			vxy := covNorm * (uxy[i] - mx*my)

			a1 := 2*mx*my + ssimC1
			a2 := 2*vxy + ssimC2
			b1 := mx*mx + my*my + ssimC1
			b2 := vx + vy + ssimC2
			sum += (a1 * a2) / (b1 * b2)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
