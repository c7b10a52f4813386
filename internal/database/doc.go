// Package database provides the SQLite store for framegrab.
//
// Two tables carry the domain: movies, one row per indexed video keyed by
// canonical path with its (size, mod_time) fingerprint and representative
// image reference, and screenshots, one row per extracted frame. The pair
// (movie_id, timestamp) is unique, and a partial index allows at most one
// fallback row (NULL timestamp) per movie. Deleting a movie cascades to its
// screenshots.
//
// The database runs in WAL mode with foreign keys enabled. Callers pass
// canonical paths; this package never normalizes them.
package database
