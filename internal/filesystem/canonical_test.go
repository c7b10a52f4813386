package filesystem

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_Empty(t *testing.T) {
	_, err := Canonicalize("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestCanonicalize_FixedPoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "movies", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movies", "a.mkv"), nil, 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "movies"), filepath.Join(dir, "link")))

	inputs := []string{
		".",
		"relative/file.jpg",
		filepath.Join(dir, "movies", "a.mkv"),
		filepath.Join(dir, "movies", "sub", "..", "a.mkv"),
		filepath.Join(dir, "link", "a.mkv"),
		filepath.Join(dir, "link", "not-yet", "written.jpg"),
		dir + "//movies/./sub/",
		filepath.Join(dir, "Café.mkv"),
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once, err := Canonicalize(in)
			require.NoError(t, err)
			twice, err := Canonicalize(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
			assert.True(t, filepath.IsAbs(once))
		})
	}
}

func TestCanonicalize_SameFileSameForm(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "movies", "sub"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "movies"), filepath.Join(dir, "link")))

	want, err := Canonicalize(filepath.Join(dir, "movies", "shot.jpg"))
	require.NoError(t, err)

	for _, alt := range []string{
		filepath.Join(dir, "movies", "sub", "..", "shot.jpg"),
		filepath.Join(dir, "link", "shot.jpg"),
		filepath.Join(dir, "movies", ".", "shot.jpg"),
	} {
		got, err := Canonicalize(alt)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %s", alt)
	}
}

func TestCanonicalize_BackslashSeparators(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("backslash is the native separator")
	}
	dir := t.TempDir()

	a, err := Canonicalize(dir + `\movies\a.jpg`)
	require.NoError(t, err)
	b, err := Canonicalize(filepath.Join(dir, "movies", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestCanonicalize_UnicodeNFC(t *testing.T) {
	dir := t.TempDir()

	decomposed, err := Canonicalize(filepath.Join(dir, "Café.jpg"))
	require.NoError(t, err)
	composed, err := Canonicalize(filepath.Join(dir, "Café.jpg"))
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()

	assert.True(t, SamePath(filepath.Join(dir, "a", "..", "b.jpg"), filepath.Join(dir, "b.jpg")))
	assert.False(t, SamePath(filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.jpg")))
	assert.False(t, SamePath("", filepath.Join(dir, "b.jpg")))
}
