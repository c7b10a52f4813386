package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"framegrab/internal/logging"
)

// ErrVipsStopped is returned by InitVips after ShutdownVips. libvips
// cannot be started twice in one process.
var ErrVipsStopped = errors.New("libvips already shut down")

var (
	vipsMu      sync.Mutex
	vipsRunning bool
	vipsStopped bool
)

// vipsThreshold is the least severe libvips message forwarded at level.
// libvips is chattier than we are, so each level is one step quieter.
func vipsThreshold(level logging.LogLevel) vips.LogLevel {
	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelInfo:
		return vips.LogLevelWarning
	case logging.LevelWarn:
		return vips.LogLevelError
	default:
		return vips.LogLevelCritical
	}
}

// forwardVipsLog routes a libvips message into our log. Smaller vips levels
// are more severe.
func forwardVipsLog(domain string, level vips.LogLevel, msg string) {
	switch {
	case level <= vips.LogLevelCritical:
		logging.Error("[%s] %s", domain, msg)
	case level <= vips.LogLevelWarning:
		logging.Warn("[%s] %s", domain, msg)
	default:
		logging.Debug("[%s] %s", domain, msg)
	}
}

// InitVips starts libvips once for the process. Resizing falls back to
// imaging when it was never started.
func InitVips() error {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	switch {
	case vipsRunning:
		return nil
	case vipsStopped:
		return ErrVipsStopped
	}

	vips.LoggingSettings(forwardVipsLog, vipsThreshold(logging.GetLevel()))
	// Served screenshots are small; one thread and a small cache is plenty.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      32 << 20,
		MaxCacheSize:     64,
	})

	vipsRunning = true
	logging.Info("libvips %s started", vips.Version)
	return nil
}

// ShutdownVips releases libvips. It is a no-op if libvips is not running.
func ShutdownVips() {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	if !vipsRunning {
		return
	}
	vips.Shutdown()
	vipsRunning = false
	vipsStopped = true
	logging.Info("libvips shut down")
}

// IsVipsAvailable reports whether libvips is running.
func IsVipsAvailable() bool {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	return vipsRunning
}

// resizeWithVips scales an image to width using libvips decode-time
// shrinking and returns it as JPEG.
func resizeWithVips(path string, width, quality int) ([]byte, error) {
	if !IsVipsAvailable() {
		return nil, fmt.Errorf("libvips not available")
	}

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	origWidth, origHeight := ref.Width(), ref.Height()
	if origWidth <= 0 || origHeight <= 0 {
		return nil, fmt.Errorf("vips loaded empty image %s", filepath.Base(path))
	}
	height := max(1, origHeight*width/origWidth)

	logging.Debug("Vips resizing %s: %dx%d -> %dx%d", filepath.Base(path), origWidth, origHeight, width, height)

	if err := ref.Thumbnail(width, height, vips.InterestingNone); err != nil {
		return nil, fmt.Errorf("vips resize failed: %w", err)
	}

	data, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        quality,
		StripMetadata:  true,
		OptimizeCoding: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}
	return data, nil
}
