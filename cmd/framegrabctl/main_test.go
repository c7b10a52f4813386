package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/startup"
	"framegrab/internal/subtitles"
	"framegrab/internal/syncer"
)

type fakeFrames struct {
	duration float64
}

func (f fakeFrames) VideoInfo(_ context.Context, path string) (*extractor.VideoInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &extractor.ExtractionError{Kind: extractor.KindSourceUnreadable, Video: path, Err: err}
	}
	return &extractor.VideoInfo{Duration: f.duration, Width: 64, Height: 36}, nil
}

func (f fakeFrames) Extract(_ context.Context, _ string, _ float64, dest string, _ *subtitles.Cue) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("jpeg"), 0o644)
}

type dirs struct {
	media, shots string
}

func setupEnv(t *testing.T) dirs {
	t.Helper()
	d := dirs{media: t.TempDir(), shots: t.TempDir()}
	t.Setenv("MEDIA_DIR", d.media)
	t.Setenv("SCREENSHOT_DIR", d.shots)
	t.Setenv("DATABASE_DIR", t.TempDir())
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("EXTRACT_WORKERS", "2")

	prev := newFrameSource
	newFrameSource = func(*startup.Config) (frameSource, func(), error) {
		return fakeFrames{duration: 600}, nil, nil
	}
	t.Cleanup(func() { newFrameSource = prev })

	prevPoll := pollInterval
	pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { pollInterval = prevPoll })

	require.NoError(t, os.WriteFile(filepath.Join(d.media, "Heat (1995).mkv"), []byte("video"), 0o644))
	return d
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorkflow(t *testing.T) {
	d := setupEnv(t)

	out, err := run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "1 new, 0 changed, 0 removed, 0 unchanged")

	out, err = run(t, "movies")
	require.NoError(t, err)
	assert.Contains(t, out, "Heat")
	assert.Contains(t, out, "1995")

	out, err = run(t, "generate", "1", "--interval", "120")
	require.NoError(t, err)
	assert.Contains(t, out, "5 done, 0 failed, 0 skipped of 5")

	out, err = run(t, "list", "1")
	require.NoError(t, err)
	for _, name := range []string{"1_screenshot0s.jpg", "1_screenshot240s.jpg", "1_screenshot480s.jpg"} {
		assert.Contains(t, out, name)
	}
	assert.NotContains(t, out, " no")

	movieDir := filepath.Join(d.shots, "1")
	removed := filepath.Join(movieDir, "1_screenshot240s.jpg")
	require.NoError(t, os.Remove(removed))
	require.NoError(t, os.WriteFile(filepath.Join(movieDir, "ghost_screenshot999s.jpg"), []byte("jpeg"), 0o644))

	out, err = run(t, "sync", "1", "--json")
	require.NoError(t, err)
	var reports []*syncer.SyncReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Missing, 1)
	assert.Len(t, reports[0].Restored, 1)
	assert.Equal(t, []string{"ghost_screenshot999s.jpg"}, reports[0].Orphaned)
	assert.FileExists(t, removed)

	out, err = run(t, "list", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "ghost_screenshot999s.jpg")

	out, err = run(t, "sync", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "1 movies synced, 1 already clean")
}

func TestScanRemovesScreenshotsOfDeletedMovies(t *testing.T) {
	d := setupEnv(t)

	_, err := run(t, "scan")
	require.NoError(t, err)
	_, err = run(t, "generate", "1", "--every-minutes", "5")
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(d.shots, "1"))

	require.NoError(t, os.Remove(filepath.Join(d.media, "Heat (1995).mkv")))
	out, err := run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "1 removed")
	assert.NoDirExists(t, filepath.Join(d.shots, "1"))
}

func TestGenerateArguments(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "scan")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no interval", []string{"generate", "1"}, "interval"},
		{"both intervals", []string{"generate", "1", "--interval", "60", "--every-minutes", "1"}, "interval"},
		{"bad id", []string{"generate", "abc", "--interval", "60"}, "invalid movie id"},
		{"zero id", []string{"generate", "0", "--interval", "60"}, "invalid movie id"},
		{"missing id", []string{"generate", "--interval", "60"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGenerateUnknownMovie(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "generate", "42", "--interval", "60")
	require.Error(t, err)
}

func TestSyncArguments(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "sync")
	assert.Error(t, err)

	_, err = run(t, "sync", "1", "--all")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "framegrabctl "+startup.Version))
}

func TestReporterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := newReporter(&buf, "Working", 0)
	r.set(3)
	assert.Empty(t, buf.String(), "nothing is printed before the total is known")

	r.setTotal(20)
	for i := 0; i <= 20; i++ {
		r.set(i)
	}
	r.finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 11)
	assert.Equal(t, "Working: 0/20 (0%)", lines[0])
	assert.Equal(t, "Working: 20/20 (100%)", lines[10])
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "fallback", formatTimestamp(database.Screenshot{}))
	ts := int64(3725)
	assert.Equal(t, "1h2m5s", formatTimestamp(database.Screenshot{Timestamp: &ts}))
}
