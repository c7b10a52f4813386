package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"framegrab/internal/logging"
	"framegrab/internal/memory"
	"framegrab/internal/workers"
)

// maxDefaultWorkers caps the computed extraction pool when EXTRACT_WORKERS
// is unset.
const maxDefaultWorkers = 8

const (
	defaultExtractTimeout = 60 * time.Second
	defaultJPEGQuality    = 85
	databaseFile          = "framegrab.db"
)

// Config is the resolved service configuration.
type Config struct {
	MediaDir        string
	ScreenshotDir   string
	DatabaseDir     string
	CacheDir        string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	ScanSchedule string
	WatchEnabled bool

	ExtractWorkers int
	QueueSize      int
	ExtractTimeout time.Duration
	FFmpegPath     string
	FFprobePath    string
	FontPath       string
	JPEGQuality    int
	// AutoInterval is the interval in seconds generated for new or changed
	// movies after a scan; 0 disables it.
	AutoInterval int64

	MemoryLimit int64
	MemoryRatio float64

	DatabasePath   string
	ResizeCacheDir string

	// ResizeCacheEnabled is false when the cache directory is not writable.
	ResizeCacheEnabled bool
}

var defaults = map[string]any{
	"MEDIA_DIR":         "/media",
	"SCREENSHOT_DIR":    "/screenshots",
	"DATABASE_DIR":      "/database",
	"CACHE_DIR":         "/cache",
	"PORT":              "8080",
	"METRICS_PORT":      "9090",
	"METRICS_ENABLED":   true,
	"LOG_HEALTH_CHECKS": true,
	"SCAN_SCHEDULE":     "@every 30m",
	"WATCH_ENABLED":     true,
	"EXTRACT_WORKERS":   0,
	"QUEUE_SIZE":        0,
	"EXTRACT_TIMEOUT":   defaultExtractTimeout.String(),
	"FFMPEG_PATH":       "ffmpeg",
	"FFPROBE_PATH":      "ffprobe",
	"FONT_PATH":         "",
	"JPEG_QUALITY":      defaultJPEGQuality,
	"AUTO_INTERVAL":     0,
	"MEMORY_LIMIT":      "0",
	"MEMORY_RATIO":      memory.DefaultMemoryRatio,
}

// Load resolves configuration from the environment and, when CONFIG_FILE
// is set, a config file. Environment variables win over the file. Invalid
// values are logged and replaced by their defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		MediaDir:        v.GetString("MEDIA_DIR"),
		ScreenshotDir:   v.GetString("SCREENSHOT_DIR"),
		DatabaseDir:     v.GetString("DATABASE_DIR"),
		CacheDir:        v.GetString("CACHE_DIR"),
		Port:            v.GetString("PORT"),
		MetricsPort:     v.GetString("METRICS_PORT"),
		MetricsEnabled:  v.GetBool("METRICS_ENABLED"),
		LogHealthChecks: v.GetBool("LOG_HEALTH_CHECKS"),
		ScanSchedule:    strings.TrimSpace(v.GetString("SCAN_SCHEDULE")),
		WatchEnabled:    v.GetBool("WATCH_ENABLED"),
		ExtractWorkers:  v.GetInt("EXTRACT_WORKERS"),
		QueueSize:       v.GetInt("QUEUE_SIZE"),
		FFmpegPath:      v.GetString("FFMPEG_PATH"),
		FFprobePath:     v.GetString("FFPROBE_PATH"),
		FontPath:        v.GetString("FONT_PATH"),
		JPEGQuality:     v.GetInt("JPEG_QUALITY"),
		AutoInterval:    v.GetInt64("AUTO_INTERVAL"),
		MemoryLimit:     int64(v.GetSizeInBytes("MEMORY_LIMIT")),
		MemoryRatio:     v.GetFloat64("MEMORY_RATIO"),
	}

	timeout, err := time.ParseDuration(v.GetString("EXTRACT_TIMEOUT"))
	if err != nil || timeout <= 0 {
		logging.Warn("  Invalid EXTRACT_TIMEOUT %q, using default: %v", v.GetString("EXTRACT_TIMEOUT"), defaultExtractTimeout)
		timeout = defaultExtractTimeout
	}
	cfg.ExtractTimeout = timeout

	cfg.normalize()
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize replaces out-of-range values and derives the worker pool size.
func (c *Config) normalize() {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		logging.Warn("  Invalid JPEG_QUALITY %d, using default: %d", c.JPEGQuality, defaultJPEGQuality)
		c.JPEGQuality = defaultJPEGQuality
	}
	if c.AutoInterval < 0 {
		logging.Warn("  Invalid AUTO_INTERVAL %d, auto generation disabled", c.AutoInterval)
		c.AutoInterval = 0
	}
	if c.MemoryRatio <= 0 || c.MemoryRatio > 1 {
		logging.Warn("  Invalid MEMORY_RATIO %v, using default: %v", c.MemoryRatio, memory.DefaultMemoryRatio)
		c.MemoryRatio = memory.DefaultMemoryRatio
	}
	if c.ExtractWorkers < 1 {
		var available uint64
		if _, avail, err := memory.HostMemory(); err == nil {
			available = avail
		}
		c.ExtractWorkers = workers.Extraction.Size(available, maxDefaultWorkers)
	}
	if c.QueueSize < 1 {
		c.QueueSize = c.ExtractWorkers * 4
	}
}

func (c *Config) resolvePaths() error {
	for _, dir := range []*string{&c.MediaDir, &c.ScreenshotDir, &c.DatabaseDir, &c.CacheDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("failed to resolve directory path %s: %w", *dir, err)
		}
		*dir = abs
	}
	c.DatabasePath = filepath.Join(c.DatabaseDir, databaseFile)
	c.ResizeCacheDir = filepath.Join(c.CacheDir, "resized")
	return nil
}

// LoadConfig loads configuration, logs it after the startup banner and
// prepares the directories the service writes to.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	logSettings(cfg)

	section("DIRECTORY SETUP")
	// Missing media is not fatal; the indexer reports it on every scan.
	if err := ensureDir(cfg.MediaDir, "media"); err != nil {
		logging.Warn("  Media directory issue: %v", err)
	}
	for _, d := range []struct{ path, name string }{
		{cfg.DatabaseDir, "database"},
		{cfg.ScreenshotDir, "screenshot"},
	} {
		if err := ensureDir(d.path, d.name); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", d.name, err)
		}
		if err := checkWritable(d.path); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", d.name, err)
		}
		logging.Info("  [OK] %s directory is writable", d.name)
	}
	cfg.ResizeCacheEnabled = optionalDir(cfg.ResizeCacheDir, "resize cache")

	logging.Info("")
	logging.Info("  Feature availability:")
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"Resize cache", cfg.ResizeCacheEnabled},
		{"Folder watch", cfg.WatchEnabled},
		{"Scheduled scan", cfg.ScanSchedule != ""},
		{"Auto generate", cfg.AutoInterval > 0},
		{"Metrics", cfg.MetricsEnabled},
	} {
		logging.Info("    %-15s %s", f.name+":", onOff(f.on))
	}
	return cfg, nil
}

func logSettings(c *Config) {
	section("CONFIGURATION")
	settings := []struct {
		key   string
		value any
	}{
		{"MEDIA_DIR", c.MediaDir},
		{"SCREENSHOT_DIR", c.ScreenshotDir},
		{"DATABASE_DIR", c.DatabaseDir},
		{"CACHE_DIR", c.CacheDir},
		{"PORT", c.Port},
		{"METRICS_PORT", c.MetricsPort},
		{"METRICS_ENABLED", c.MetricsEnabled},
		{"SCAN_SCHEDULE", valueOr(c.ScanSchedule, "(disabled)")},
		{"WATCH_ENABLED", c.WatchEnabled},
		{"EXTRACT_WORKERS", c.ExtractWorkers},
		{"QUEUE_SIZE", c.QueueSize},
		{"EXTRACT_TIMEOUT", c.ExtractTimeout},
		{"JPEG_QUALITY", c.JPEGQuality},
		{"AUTO_INTERVAL", c.AutoInterval},
		{"LOG_HEALTH_CHECKS", c.LogHealthChecks},
		{"LOG_LEVEL", logging.GetLevel()},
	}
	for _, s := range settings {
		logging.Info("  %-20s %v", s.key+":", s.value)
	}
}

func ensureDir(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created %s", path)
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("%s exists but is not a directory", path)
	}
	return nil
}

// optionalDir prepares a directory for a feature that is switched off when
// it cannot be written.
func optionalDir(path, name string) bool {
	err := os.MkdirAll(path, 0o755)
	if err == nil {
		err = checkWritable(path)
	}
	if err != nil {
		logging.Warn("    %s disabled: %v", name, err)
		return false
	}
	logging.Debug("    [OK] %s directory ready", name)
	return true
}

// checkWritable creates and removes a marker file in dir.
func checkWritable(dir string) error {
	marker := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(marker, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(marker); err != nil {
		logging.Warn("failed to remove write test file %s: %v", marker, err)
	}
	return nil
}
