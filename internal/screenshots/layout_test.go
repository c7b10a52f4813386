package screenshots

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPaths(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(l.Root(), "7"), l.MovieDir(7))
	assert.Equal(t, filepath.Join(l.Root(), "7", "7_screenshot120s.jpg"), l.ScreenshotPath(7, 120))
	assert.Equal(t, filepath.Join(l.Root(), "7", "7_fallback.jpg"), l.FallbackPath(7))

	ts := int64(5)
	assert.Equal(t, l.ScreenshotPath(7, 5), l.PathFor(7, &ts))
	assert.Equal(t, l.FallbackPath(7), l.PathFor(7, nil))
}

func TestLayoutIsFallback(t *testing.T) {
	l, err := NewLayout(t.TempDir())
	require.NoError(t, err)

	assert.True(t, l.IsFallback(3, filepath.Join(l.MovieDir(3), ".", "3_fallback.jpg")))
	assert.True(t, l.IsFallback(3, filepath.Join(l.MovieDir(3), "x", "..", "3_fallback.jpg")))
	// A name that merely contains "fallback" is not the fallback.
	assert.False(t, l.IsFallback(3, filepath.Join(l.MovieDir(3), "my_fallback.jpg")))
	assert.False(t, l.IsFallback(4, l.FallbackPath(3)))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		want   int64
		wantOK bool
	}{
		{"7_screenshot120s.jpg", 120, true},
		{"ghost_screenshot999s.jpg", 999, true},
		{"screenshot0s.png", 0, true},
		{"/abs/dir/12_screenshot30s.jpeg", 30, true},
		{"7_screenshot120s.jpg.abc.part", 0, false},
		{"7_fallback.jpg", 0, false},
		{"7_screenshots.jpg", 0, false},
		{"notes.txt", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStagingPath(t *testing.T) {
	staging := StagingPath("/s/1/1_screenshot0s.jpg", "b1")
	assert.Equal(t, "/s/1/1_screenshot0s.jpg.b1.part", staging)
	assert.True(t, IsStagingName(filepath.Base(staging)))
	assert.False(t, IsStagingName("1_screenshot0s.jpg"))
}
