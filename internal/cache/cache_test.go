package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Miss(t *testing.T) {
	c := New(t.TempDir())

	_, ok, err := c.Get(42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	data := []byte("<gpx>track</gpx>")

	path, err := c.Put(42, data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "gpx", "42.gpx"), path)

	got, ok, err := c.Get(42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, path, got)

	content, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestPut_CreatesRootLazily(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	c := New(root)

	_, err := c.Put(1, []byte("x"))
	require.NoError(t, err)

	_, ok, err := c.Get(1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPut_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	c := New(root)

	_, err := c.Put(7, []byte("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "gpx"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPut_ConcurrentIdenticalWrites(t *testing.T) {
	c := New(t.TempDir())
	data := []byte("<gpx>same bytes</gpx>")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Put(42, data)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	path, ok, err := c.Get(42)
	require.NoError(t, err)
	require.True(t, ok)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content, "concurrent puts must never leave a corrupt file")
}
