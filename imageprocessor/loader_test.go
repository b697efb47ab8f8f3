package imageprocessor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"memfinder/types"

	"github.com/disintegration/imaging"
)

func TestLoader_DecodePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	if err := imaging.Save(syntheticImage(30, 64, 48), path); err != nil {
		t.Fatal(err)
	}

	l := &Loader{}
	mat, err := l.Decode(context.Background(), types.PathSource(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mat.Close()
	if mat.Cols() != 64 || mat.Rows() != 48 || mat.Channels() != 3 {
		t.Errorf("got %dx%d with %d channels", mat.Cols(), mat.Rows(), mat.Channels())
	}
}

func TestLoader_DecodeBytes(t *testing.T) {
	tests := []struct {
		name   string
		format imaging.Format
	}{
		{"png", imaging.PNG},
		{"jpeg", imaging.JPEG},
	}
	l := &Loader{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encode(t, syntheticImage(32, 80, 56), tt.format)
			mat, err := l.Decode(context.Background(), types.BytesSource("upload", data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer mat.Close()
			if mat.Cols() != 80 || mat.Rows() != 56 || mat.Channels() != 3 {
				t.Errorf("got %dx%d with %d channels", mat.Cols(), mat.Rows(), mat.Channels())
			}
		})
	}
}

func TestLoader_DecodeErrors(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.jpg")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		src  types.Source
	}{
		{"missing file", types.PathSource(filepath.Join(dir, "missing.png"))},
		{"corrupt file", types.PathSource(corrupt)},
		{"garbage bytes", types.BytesSource("upload", []byte("garbage"))},
		{"empty bytes", types.BytesSource("upload", nil)},
	}
	l := &Loader{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Decode(context.Background(), tt.src)
			if !IsDecodeError(err) {
				t.Errorf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestLoader_DecodeURL(t *testing.T) {
	data := encode(t, syntheticImage(31, 32, 32), imaging.PNG)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	l := &Loader{HTTPClient: srv.Client()}
	mat, err := l.Decode(context.Background(), types.URLSource(srv.URL+"/img.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer mat.Close()
	if mat.Cols() != 32 {
		t.Errorf("Cols = %d, want 32", mat.Cols())
	}
}

func TestLoader_DecodeURL_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := &Loader{HTTPClient: srv.Client()}
	_, err := l.Decode(context.Background(), types.URLSource(srv.URL+"/missing.png"))
	if !IsDecodeError(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if errors.Is(err, ErrNetworkTimeout) {
		t.Error("404 must not be reported as a timeout")
	}
}

func TestLoader_DecodeURL_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	l := &Loader{HTTPClient: srv.Client(), Timeout: 50 * time.Millisecond}
	_, err := l.Decode(context.Background(), types.URLSource(srv.URL+"/slow.png"))
	if !IsDecodeError(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !errors.Is(err, ErrNetworkTimeout) {
		t.Errorf("expected ErrNetworkTimeout, got %v", err)
	}
}
