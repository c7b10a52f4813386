/*
Package filesystem holds the path and file primitives shared by the scanner,
the extractor and the persistence layer.

# Canonical paths

[Canonicalize] produces the only path form that is stored in the database
or compared anywhere in framegrab. [SamePath] is the equality helper built on
it. Raw string comparison of paths is a bug.

# Atomic writes

[WriteFileAtomic] stages bytes in a hidden temp file next to the target and
renames it into place, so a screenshot is either absent or complete.

# NFS resilience

[StatWithRetry], [OpenWithRetry] and [ReadDirWithRetry] retry only on ESTALE
with capped exponential backoff. Other errors return immediately.

# Metrics

Operations report through an [Observer] set with [SetObserver]. The metrics
package provides the Prometheus implementation; when no observer is set,
nothing is recorded. A [VolumeResolver] maps paths to volume labels.
*/
package filesystem
