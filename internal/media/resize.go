package media

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/crypto/blake2b"

	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

// MinWidth is the smallest width Resize produces.
const MinWidth = 16

// ErrInvalidWidth is returned for widths outside [MinWidth, MaxImageDimension].
var ErrInvalidWidth = errors.New("invalid image width")

// Resizer serves scaled JPEG copies of screenshots and posters, cached on
// disk by source path, size, modification time and width.
type Resizer struct {
	cacheDir string
	quality  int

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewResizer creates a Resizer caching into cacheDir. An empty cacheDir
// disables caching.
func NewResizer(cacheDir string, quality int) *Resizer {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			logging.Warn("Resizer: failed to create cache dir %s, caching disabled: %v", cacheDir, err)
			cacheDir = ""
		}
	}
	return &Resizer{
		cacheDir: cacheDir,
		quality:  quality,
		inflight: make(map[string]*sync.Mutex),
	}
}

// Resize returns the image at path scaled to width as JPEG. Images narrower
// than width are re-encoded at their own size.
func (r *Resizer) Resize(path string, width int) ([]byte, error) {
	if width < MinWidth || width > MaxImageDimension {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}

	key := cacheKey(path, info.Size(), info.ModTime().UnixNano(), width)
	if data, ok := r.cached(key); ok {
		metrics.ImageResizeCache.WithLabelValues("hit").Inc()
		return data, nil
	}

	unlock := r.lock(key)
	defer unlock()

	if data, ok := r.cached(key); ok {
		metrics.ImageResizeCache.WithLabelValues("hit").Inc()
		return data, nil
	}
	metrics.ImageResizeCache.WithLabelValues("miss").Inc()

	data, err := r.render(path, width)
	if err != nil {
		return nil, err
	}

	if r.cacheDir != "" {
		if err := filesystem.WriteFileAtomic(filepath.Join(r.cacheDir, key), data, 0o644); err != nil {
			logging.Warn("Failed to cache resized image for %s: %v", path, err)
		}
	}
	return data, nil
}

func (r *Resizer) render(path string, width int) ([]byte, error) {
	if dims, err := GetImageDimensions(path); err == nil && dims.Width < width {
		width = dims.Width
	}

	if IsVipsAvailable() {
		data, err := resizeWithVips(path, width, r.quality)
		if err == nil {
			metrics.ImageResizeTotal.WithLabelValues("vips", "success").Inc()
			return data, nil
		}
		metrics.ImageResizeTotal.WithLabelValues("vips", "error").Inc()
		logging.Debug("vips resize failed for %s, falling back to imaging: %v", path, err)
	}

	data, err := r.resizeWithImaging(path, width)
	if err != nil {
		metrics.ImageResizeTotal.WithLabelValues("imaging", "error").Inc()
		return nil, err
	}
	metrics.ImageResizeTotal.WithLabelValues("imaging", "success").Inc()
	return data, nil
}

func (r *Resizer) resizeWithImaging(path string, width int) ([]byte, error) {
	img, err := LoadImageConstrained(path, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() != width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Resizer) cached(key string) ([]byte, bool) {
	if r.cacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(r.cacheDir, key))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// lock serializes renders of the same key.
func (r *Resizer) lock(key string) func() {
	r.mu.Lock()
	m, ok := r.inflight[key]
	if !ok {
		m = &sync.Mutex{}
		r.inflight[key] = m
	}
	r.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	}
}

func cacheKey(path string, size, modTime int64, width int) string {
	sum := blake2b.Sum256([]byte(path + "|" + strconv.FormatInt(size, 10) + "|" +
		strconv.FormatInt(modTime, 10) + "|" + strconv.Itoa(width)))
	return hex.EncodeToString(sum[:16]) + ".jpg"
}
