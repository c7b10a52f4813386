// Package media serves scaled copies of screenshots and posters.
//
// Resizer prefers libvips when InitVips succeeded and falls back to the
// pure-Go imaging library otherwise. Results are cached on disk keyed by the
// source path, size, modification time and requested width, so a regenerated
// screenshot never serves a stale thumbnail.
package media
