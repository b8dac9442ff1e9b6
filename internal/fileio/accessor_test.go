package fileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesParentDirAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.bin")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, path, a.Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteAt_AndSize(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Preallocate(10))
	require.NoError(t, a.WriteAt(0, []byte("hello")))
	require.NoError(t, a.WriteAt(5, []byte("world")))

	size, err := a.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	require.NoError(t, a.Flush())

	data, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestRename_MovesFileAndUpdatesPath(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "out.bin.part")
	dest := filepath.Join(dir, "out.bin")

	a, err := Open(orig)
	require.NoError(t, err)
	require.NoError(t, a.WriteAt(0, []byte("x")))

	require.NoError(t, a.Rename(dest))
	assert.Equal(t, dest, a.Path())

	_, err = os.Stat(orig)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dest)
	assert.NoError(t, err)

	require.NoError(t, a.Close())
}

func TestDelete_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	a, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, a.Delete())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
