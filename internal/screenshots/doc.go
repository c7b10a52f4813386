// Package screenshots is the persistence layer for extracted frames.
//
// [Layout] maps (movie, timestamp) to deterministic file names under the
// configured root and parses them back. [Store] is the single writer of
// screenshot rows: it canonicalizes paths, refuses to record a file that is
// not on disk, serializes writes per movie, and upserts on
// (movie, timestamp). Write failures are logged and returned wrapped in
// [ErrPersist]; they are never retried.
package screenshots
