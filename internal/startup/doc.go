// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is resolved by [Load] through viper: defaults, then an
// optional file named by CONFIG_FILE, then environment variables.
//
//   - MEDIA_DIR: Video library root (default: /media)
//   - SCREENSHOT_DIR: Screenshot root (default: /screenshots)
//   - DATABASE_DIR: SQLite directory (default: /database)
//   - CACHE_DIR: Resized image cache (default: /cache)
//   - PORT, METRICS_PORT, METRICS_ENABLED: HTTP listeners (8080, 9090, true)
//   - SCAN_SCHEDULE: Cron expression for library scans (default: @every 30m)
//   - WATCH_ENABLED: Trigger scans from filesystem events (default: true)
//   - EXTRACT_WORKERS, QUEUE_SIZE: Extraction pool size and queue bound
//   - EXTRACT_TIMEOUT: Hard limit per ffmpeg/ffprobe call (default: 60s)
//   - FFMPEG_PATH, FFPROBE_PATH, FONT_PATH: External tools and overlay font
//   - JPEG_QUALITY: Screenshot and resize quality (default: 85)
//   - AUTO_INTERVAL: Seconds between screenshots generated after a scan (0 = off)
//   - LOG_LEVEL, LOG_FORMAT, LOG_HEALTH_CHECKS: Logging
//   - MEMORY_LIMIT, MEMORY_RATIO: Container limit for GOMEMLIMIT (e.g. 2GB, 0.85)
//
// [LoadConfig] also prints the banner, logs every value and requires the
// database and screenshot directories to be writable. The resize cache is
// optional and disabled when its directory cannot be written.
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags and exposed via
// [GetBuildInfo].
package startup
