package imageprocessor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"memfinder/types"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultFetchTimeout bounds every URL request
	DefaultFetchTimeout = 10 * time.Second
	defaultMaxBytes     = 64 << 20
	defaultUserAgent    = "memfinder/1.0"
)

// Loader decodes images from local paths, URLs and in-memory buffers into
// 3-channel BGR matrices. The zero value is ready to use. A Loader is safe for
// concurrent use as long as its fields are not modified.
type Loader struct {
	HTTPClient *http.Client  // nil = http.DefaultClient
	Timeout    time.Duration // per-request timeout (default: 10s)
	MaxBytes   int64         // max response body size (default: 64MB)
	UserAgent  string
}

func (l *Loader) client() *http.Client {
	if l.HTTPClient != nil {
		return l.HTTPClient
	}
	return http.DefaultClient
}

func (l *Loader) timeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return DefaultFetchTimeout
}

func (l *Loader) maxBytes() int64 {
	if l.MaxBytes > 0 {
		return l.MaxBytes
	}
	return defaultMaxBytes
}

func (l *Loader) userAgent() string {
	if l.UserAgent != "" {
		return l.UserAgent
	}
	return defaultUserAgent
}

// Decode loads src. Every failure is returned as a *DecodeError; URL fetches
// that exceed the timeout additionally wrap ErrNetworkTimeout. The caller owns
// the returned Mat and must Close it.
func (l *Loader) Decode(ctx context.Context, src types.Source) (gocv.Mat, error) {
	switch src.Kind {
	case types.LocalPath:
		return l.decodePath(src.Path)
	case types.RemoteURL:
		data, err := l.fetch(ctx, src.URL)
		if err != nil {
			return gocv.NewMat(), newDecodeError(src.URL, err)
		}
		return decodeBytes(src.URL, data)
	case types.InMemoryBytes:
		return decodeBytes(src.Identifier(), src.Data)
	default:
		return gocv.NewMat(), newDecodeError(src.Identifier(), fmt.Errorf("unknown source kind %v", src.Kind))
	}
}

func (l *Loader) decodePath(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), newDecodeError(path, err)
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	if !img.Empty() {
		return img, nil
	}
	img.Close()

	// OpenCV builds without a codec for the format fall back to Go decoders
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), newDecodeError(path, err)
	}
	defer f.Close()
	return decodeWithGo(path, f)
}

func decodeBytes(name string, data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), newDecodeError(name, errors.New("empty image data"))
	}

	if img, err := gocv.IMDecode(data, gocv.IMReadColor); err == nil {
		if !img.Empty() {
			return img, nil
		}
		img.Close()
	}

	return decodeWithGo(name, bytes.NewReader(data))
}

// decodeWithGo decodes with the registered Go image packages and converts the
// result into a BGR Mat
func decodeWithGo(name string, r io.Reader) (gocv.Mat, error) {
	goImg, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return gocv.NewMat(), newDecodeError(name, err)
	}
	mat, err := gocv.ImageToMatRGB(goImg)
	if err != nil {
		return gocv.NewMat(), newDecodeError(name, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), newDecodeError(name, errors.New("decoded image is empty"))
	}
	return mat, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", l.userAgent())

	resp, err := l.client().Do(req) //nolint:gosec // URLs come from the configured corpus list
	if err != nil {
		return nil, classifyFetchError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes()))
	if err != nil {
		return nil, classifyFetchError(ctx, err)
	}
	return data, nil
}

func classifyFetchError(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return errors.Wrap(ErrNetworkTimeout, err.Error())
	}
	return err
}
