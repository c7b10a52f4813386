package filesystem

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, config.InitialBackoff)
	assert.Equal(t, 500*time.Millisecond, config.MaxBackoff)
	assert.Nil(t, config.VolumeResolver)
}

func TestIsNFSStaleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ESTALE error", syscall.ESTALE, true},
		{"wrapped ESTALE", &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, true},
		{"ENOENT error", syscall.ENOENT, false},
		{"generic error", os.ErrNotExist, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNFSStaleError(tt.err))
		})
	}
}

// =============================================================================
// VolumeResolver Tests
// =============================================================================

func TestVolumeResolver_Resolve(t *testing.T) {
	vr := NewVolumeResolver(map[string]string{
		"media":       "/media",
		"screenshots": "/data/screenshots",
		"database":    "/data",
	})

	tests := []struct {
		name string
		path string
		want string
	}{
		{"media root", "/media", "media"},
		{"media file", "/media/films/Heat (1995).mkv", "media"},
		{"longest prefix wins", "/data/screenshots/4/4_screenshot0s.jpg", "screenshots"},
		{"shorter prefix", "/data/framegrab.db", "database"},
		{"prefix without separator", "/mediafiles/x.mkv", "unknown"},
		{"unrelated", "/etc/passwd", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vr.Resolve(tt.path))
		})
	}
}

func TestVolumeResolver_NilResolver(t *testing.T) {
	var vr *VolumeResolver
	assert.Equal(t, "unknown", vr.Resolve("/media/x.mkv"))
}

func TestRetryConfig_ResolveVolume(t *testing.T) {
	SetDefaultVolumeResolver(NewVolumeResolver(map[string]string{"media": "/media"}))
	t.Cleanup(func() { SetDefaultVolumeResolver(nil) })

	config := DefaultRetryConfig()
	assert.Equal(t, "media", config.resolveVolume("/media/a.mkv"))

	config.VolumeResolver = NewVolumeResolver(map[string]string{"other": "/media"})
	assert.Equal(t, "other", config.resolveVolume("/media/a.mkv"))
}

// =============================================================================
// Retry Tests
// =============================================================================

type recordingObserver struct {
	mu     sync.Mutex
	events map[RetryEvent]int
	ops    []string
}

func (r *recordingObserver) ObserveOperation(_, operation string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, operation)
}

func (r *recordingObserver) ObserveRetry(_, _ string, event RetryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event]++
}

func (r *recordingObserver) count(event RetryEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

func withObserver(t *testing.T) *recordingObserver {
	t.Helper()
	obs := &recordingObserver{events: map[RetryEvent]int{}}
	SetObserver(obs)
	t.Cleanup(func() { SetObserver(nil) })
	return obs
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestWithRetry_RetriesStaleThenSucceeds(t *testing.T) {
	obs := withObserver(t)

	calls := 0
	v, err := withRetry("stat", "/x", fastRetry(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, obs.count(RetryAttempt))
	assert.Equal(t, 1, obs.count(RetryRecovered))
	assert.Equal(t, 1, obs.count(RetryStale))
	assert.Equal(t, []string{"stat"}, obs.ops)
}

func TestWithRetry_GivesUp(t *testing.T) {
	obs := withObserver(t)

	calls := 0
	_, err := withRetry("open", "/x", fastRetry(), func() (int, error) {
		calls++
		return 0, syscall.ESTALE
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, obs.count(RetryExhausted))
	assert.Equal(t, 3, obs.count(RetryStale))
	assert.Equal(t, 2, obs.count(RetryAttempt))
}

func TestWithRetry_NonStaleReturnsImmediately(t *testing.T) {
	calls := 0
	_, err := withRetry("stat", "/x", fastRetry(), func() (int, error) {
		calls++
		return 0, os.ErrPermission
	})

	require.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, 1, calls)
}

func TestStatOpenReadDirWithRetry(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	info, err := StatWithRetry(file, DefaultRetryConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	f, err := OpenWithRetry(file, DefaultRetryConfig())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := ReadDirWithRetry(dir, DefaultRetryConfig())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = StatWithRetry(filepath.Join(dir, "missing"), DefaultRetryConfig())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	ok, err := Exists(file)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}
