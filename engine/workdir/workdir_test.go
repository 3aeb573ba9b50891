package workdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocate_FirstIsZero(t *testing.T) {
	root := t.TempDir()

	dir, err := Allocate(root)
	require.NoError(t, err)
	require.Equal(t, "0", filepath.Base(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestAllocate_IncrementsPastExisting(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.Mkdir(filepath.Join(root, "0"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "3"), 0o755))

	dir, err := Allocate(root)
	require.NoError(t, err)
	require.Equal(t, "4", filepath.Base(dir))
}

func TestAllocate_RejectsNonNumericSibling(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "notanumber"), 0o755))

	_, err := Allocate(root)
	require.Error(t, err)
}

func TestAllocate_CreatesRootIfMissing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")

	dir, err := Allocate(root)
	require.NoError(t, err)
	require.Equal(t, "0", filepath.Base(dir))
}

func TestReset_ClearsContentsKeepsDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "stage")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stdout"), []byte("old"), 0o644))

	require.NoError(t, Reset(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReset_CreatesMissingDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "not-yet-created")

	require.NoError(t, Reset(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
