package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	obs := withObserver(t)
	dir := t.TempDir()
	dest := filepath.Join(dir, "7", "7_screenshot120s.jpg")

	require.NoError(t, WriteFileAtomic(dest, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(dest, []byte("second"), 0o644))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
	assert.Contains(t, obs.ops, "write")
}

func TestWriteFileAtomic_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteFileAtomic(filepath.Join(blocker, "child.jpg"), []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestIsTempName(t *testing.T) {
	assert.True(t, IsTempName(".7_screenshot0s.jpg.tmp-12345"))
	assert.False(t, IsTempName("7_screenshot0s.jpg"))
}
