package imageprocessor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"memfinder/types"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// syntheticImage draws a smooth, asymmetric grayscale field by bilinear
// interpolation of a random coarse grid.
func syntheticImage(seed int64, w, h int) *image.NRGBA {
	r := rand.New(rand.NewSource(seed))
	const grid = 6
	var cells [grid + 1][grid + 1]float64
	for i := range cells {
		for j := range cells[i] {
			cells[i][j] = r.Float64() * 255
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		fy := float64(y) / float64(h-1) * grid
		y0 := int(fy)
		if y0 >= grid {
			y0 = grid - 1
		}
		ty := fy - float64(y0)
		for x := 0; x < w; x++ {
			fx := float64(x) / float64(w-1) * grid
			x0 := int(fx)
			if x0 >= grid {
				x0 = grid - 1
			}
			tx := fx - float64(x0)
			v := cells[y0][x0]*(1-tx)*(1-ty) + cells[y0][x0+1]*tx*(1-ty) +
				cells[y0+1][x0]*(1-tx)*ty + cells[y0+1][x0+1]*tx*ty
			g := uint8(v + 0.5)
			img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image, format imaging.Format, opts ...imaging.EncodeOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, name string, data []byte) gocv.Mat {
	t.Helper()
	l := &Loader{}
	mat, err := l.Decode(context.Background(), types.BytesSource(name, data))
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return mat
}

func decodePNG(t *testing.T, name string, img image.Image) gocv.Mat {
	t.Helper()
	return decode(t, name, encode(t, img, imaging.PNG))
}

func fingerprint(t *testing.T, mat gocv.Mat) string {
	t.Helper()
	fp, err := ComputePerceptualHash(mat, DefaultHashSize)
	if err != nil {
		t.Fatalf("ComputePerceptualHash: %v", err)
	}
	return fp.String()
}
