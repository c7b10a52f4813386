// Command framegrab is the screenshot service for a video library.
//
// It indexes MEDIA_DIR on a cron schedule and on filesystem events,
// extracts frames with ffmpeg into SCREENSHOT_DIR, and serves the HTTP API
// from package handlers on PORT. Prometheus metrics are served separately
// on METRICS_PORT.
//
// # Lifecycle
//
//  1. Configuration is loaded (see package startup) and GOMEMLIMIT is set
//     from MEMORY_LIMIT when no explicit limit exists.
//  2. The database, memory monitor, extractor, screenshot store, generator,
//     sync engine and indexer are built and wired: completed scans hand new
//     and changed movies to the generator, and removed movies lose their
//     screenshot directories.
//  3. The indexer runs its initial scan in the background while the HTTP
//     servers start; /readyz answers 200 once that scan is done.
//  4. On SIGINT or SIGTERM the servers stop accepting requests, the indexer
//     stops, queued extraction jobs are dropped, running ffmpeg processes
//     finish or are killed, and the database is closed.
//
// # Build Requirements
//
// CGO is required for SQLite and libvips. ffmpeg and ffprobe must be on
// PATH or configured with FFMPEG_PATH and FFPROBE_PATH. Without libvips,
// served images are resized in pure Go.
package main
