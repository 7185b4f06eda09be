package controlplane

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"
	"time"

	"github.com/scopecast/service/internal/workerpool"
)

func rgbaPixels(w, h int) []byte {
	px := make([]byte, w*h*4)
	for i := range px {
		px[i] = byte(i % 251)
	}
	return px
}

func TestEncodeJPEGProducesDecodableImage(t *testing.T) {
	resp, err := encodeJPEG(rgbaPixels(16, 8), 16, 8, 80)
	if err != nil {
		t.Fatalf("encodeJPEG: %v", err)
	}
	if resp.Width != 16 || resp.Height != 8 {
		t.Fatalf("dimensions = %dx%d", resp.Width, resp.Height)
	}

	img, err := jpeg.Decode(bytes.NewReader(resp.Data))
	if err != nil {
		t.Fatalf("output is not valid JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("decoded dimensions = %dx%d", b.Dx(), b.Dy())
	}
}

func TestEncodeJPEGRejectsBadInput(t *testing.T) {
	if _, err := encodeJPEG(nil, 0, 0, 80); err == nil {
		t.Error("zero dimensions accepted")
	}
	if _, err := encodeJPEG(make([]byte, 10), 16, 16, 80); err == nil {
		t.Error("short pixel buffer accepted")
	}
}

func TestThumbnailCacheServesFromCacheWithinTTL(t *testing.T) {
	pool := workerpool.New(1)
	cache := newThumbnailCache(80, time.Minute, pool)

	renders := 0
	render := func(ctx context.Context) ([]byte, int, int, error) {
		renders++
		return rgbaPixels(8, 8), 8, 8, nil
	}

	if _, err := cache.Get(context.Background(), "display:DP-1", render); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background(), "display:DP-1", render); err != nil {
		t.Fatal(err)
	}
	if renders != 1 {
		t.Fatalf("renders = %d, want 1 (second hit cached)", renders)
	}

	// A different key misses.
	if _, err := cache.Get(context.Background(), "display:DP-2", render); err != nil {
		t.Fatal(err)
	}
	if renders != 2 {
		t.Fatalf("renders = %d, want 2", renders)
	}
}

func TestThumbnailCachePropagatesRenderError(t *testing.T) {
	pool := workerpool.New(1)
	cache := newThumbnailCache(80, time.Minute, pool)

	wantErr := errors.New("capture failed")
	_, err := cache.Get(context.Background(), "window:1", func(ctx context.Context) ([]byte, int, int, error) {
		return nil, 0, 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
