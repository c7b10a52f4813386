// Package indexer keeps the movies table in step with the media directory.
//
// A scan walks the media root once with a small pool of workers, computes
// each video's fingerprint (size and modification time) and compares it with
// the stored one:
//   - no stored row: new
//   - different fingerprint: changed
//   - same fingerprint: unchanged, nothing is written
//
// New and changed movies are written in batches, one transaction each, so
// an interrupted scan keeps what it already wrote and the next scan carries
// on from there. Movies whose files disappeared are deleted only after a
// complete walk; their screenshot rows cascade.
//
// Titles and years come from file names ("Heat (1995).mkv"). Artwork next to
// the video (<name>-poster.*, <name>.jpg, poster.*, folder.*) becomes the
// movie's representative image.
//
// Scans run on startup, on a cron schedule, on demand and, when watching is
// enabled, shortly after fsnotify reports changes. Only one runs at a time.
// Hidden files and directories are skipped.
package indexer
