package controlplane

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/scopecast/service/internal/protocol"
	"github.com/scopecast/service/internal/workerpool"
)

// ThumbnailCache memoizes a recent encode per key for ThumbnailCacheTTLMs,
// so a GUI shell polling previews doesn't force a fresh capture-and-encode
// on every tick. Encoding is admitted through the shared worker pool, so a
// burst of preview requests can't saturate every core at once.
type ThumbnailCache struct {
	quality int
	ttl     time.Duration
	pool    *workerpool.Pool

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    protocol.ThumbnailResponse
	expires time.Time
}

func newThumbnailCache(quality int, ttl time.Duration, pool *workerpool.Pool) *ThumbnailCache {
	return &ThumbnailCache{
		quality: quality,
		ttl:     ttl,
		pool:    pool,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a cached or freshly-encoded thumbnail for key, using render
// to produce raw RGBA pixels on a cache miss.
func (c *ThumbnailCache) Get(ctx context.Context, key string, render func(ctx context.Context) (pixels []byte, w, h int, err error)) (protocol.ThumbnailResponse, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.resp, nil
	}
	c.mu.Unlock()

	pixels, w, h, err := render(ctx)
	if err != nil {
		return protocol.ThumbnailResponse{}, err
	}

	var resp protocol.ThumbnailResponse
	var encErr error
	if err := c.pool.Do(ctx, func() {
		resp, encErr = encodeJPEG(pixels, w, h, c.quality)
	}); err != nil {
		return protocol.ThumbnailResponse{}, err
	}
	if encErr != nil {
		return protocol.ThumbnailResponse{}, encErr
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{resp: resp, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return resp, nil
}

func encodeJPEG(pixels []byte, w, h, quality int) (protocol.ThumbnailResponse, error) {
	if w <= 0 || h <= 0 {
		return protocol.ThumbnailResponse{}, fmt.Errorf("controlplane: invalid thumbnail dimensions %dx%d", w, h)
	}
	if len(pixels) < w*h*4 {
		return protocol.ThumbnailResponse{}, fmt.Errorf("controlplane: pixel buffer too small for %dx%d RGBA", w, h)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			img.SetRGBA(x, y, color.RGBA{pixels[i], pixels[i+1], pixels[i+2], pixels[i+3]})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return protocol.ThumbnailResponse{}, fmt.Errorf("controlplane: encode jpeg: %w", err)
	}

	return protocol.ThumbnailResponse{
		Data:   buf.Bytes(),
		Width:  uint32(w),
		Height: uint32(h),
	}, nil
}
