// Package syncer reconciles screenshot rows with the files on disk.
//
// An orphan is a screenshot-named file in a movie's directory that no row
// points at; syncing gives it a row. A missing file is a row whose file is
// gone; syncing re-extracts the frame, or deletes the row when the video is
// gone or extraction fails. Paths are compared in canonical form only.
//
// Drift is not an error. It is reported in a [SyncReport], and a second
// sync of the same movie finds nothing.
package syncer
