package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"framegrab/internal/logging"
)

// VolumeResolver maps paths to volume labels ("media", "screenshots",
// "database") for metrics. Matching is longest-prefix on absolute paths.
type VolumeResolver struct {
	mounts []volumeMount
}

type volumeMount struct {
	prefix string
	name   string
}

// NewVolumeResolver creates a resolver from a map of volume name to directory.
func NewVolumeResolver(volumes map[string]string) *VolumeResolver {
	mounts := make([]volumeMount, 0, len(volumes))
	for name, dir := range volumes {
		prefix := canonicalOrClean(dir)
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		mounts = append(mounts, volumeMount{prefix: prefix, name: name})
	}

	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].prefix) > len(mounts[j].prefix)
	})

	return &VolumeResolver{mounts: mounts}
}

// Resolve returns the volume name for path, or "unknown".
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return "unknown"
	}

	p := canonicalOrClean(path) + string(filepath.Separator)
	for _, m := range vr.mounts {
		if strings.HasPrefix(p, m.prefix) {
			return m.name
		}
	}
	return "unknown"
}

var defaultResolver *VolumeResolver

// SetDefaultVolumeResolver sets the package-level volume resolver.
func SetDefaultVolumeResolver(vr *VolumeResolver) {
	defaultResolver = vr
}

// RetryConfig configures retry behavior for stale NFS handles.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// VolumeResolver overrides the package-level resolver when set.
	VolumeResolver *VolumeResolver
}

// DefaultRetryConfig returns the defaults used across the service.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c *RetryConfig) resolveVolume(path string) string {
	if c.VolumeResolver != nil {
		return c.VolumeResolver.Resolve(path)
	}
	return defaultResolver.Resolve(path)
}

func isNFSStaleError(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ESTALE
}

// withRetry runs fn until it succeeds, fails with a non-ESTALE error, or
// the retry budget is spent. Only ESTALE is retried.
func withRetry[T any](op, path string, config RetryConfig, fn func() (T, error)) (v T, err error) {
	start := time.Now()
	volume := config.resolveVolume(path)
	defer func() { observeOperation(volume, op, start, err) }()

	wait := config.InitialBackoff
	for attempt := 0; ; attempt++ {
		v, err = fn()
		if err == nil {
			if attempt > 0 {
				logging.Info("NFS %s succeeded on retry %d for %s", op, attempt, path)
				observeRetry(volume, op, RetryRecovered)
			}
			return v, nil
		}
		if !isNFSStaleError(err) {
			return v, err
		}
		observeRetry(volume, op, RetryStale)

		if attempt >= config.MaxRetries {
			logging.Warn("NFS %s failed after %d retries for %s: %v", op, config.MaxRetries, path, err)
			observeRetry(volume, op, RetryExhausted)
			return v, err
		}

		observeRetry(volume, op, RetryAttempt)
		logging.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
			op, path, wait, attempt+1, config.MaxRetries)
		time.Sleep(wait)
		wait = min(wait*2, config.MaxBackoff)
	}
}

// StatWithRetry performs os.Stat, retrying stale NFS handles.
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	return withRetry("stat", path, config, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry performs os.Open, retrying stale NFS handles.
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	return withRetry("open", path, config, func() (*os.File, error) {
		return os.Open(path)
	})
}

// ReadDirWithRetry performs os.ReadDir, retrying stale NFS handles.
func ReadDirWithRetry(path string, config RetryConfig) ([]os.DirEntry, error) {
	return withRetry("readdir", path, config, func() ([]os.DirEntry, error) {
		return os.ReadDir(path)
	})
}

// Exists reports whether path exists, treating any stat error other than
// "not exist" as existing-but-unreadable (false, err).
func Exists(path string) (bool, error) {
	_, err := StatWithRetry(path, DefaultRetryConfig())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
