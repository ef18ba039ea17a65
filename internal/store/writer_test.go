package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFS struct {
	mu     sync.Mutex
	writes map[string]int
}

func (c *countingFS) write(path string, data []byte) error {
	c.mu.Lock()
	if c.writes == nil {
		c.writes = map[string]int{}
	}
	c.writes[path]++
	c.mu.Unlock()
	return writeFileAtomic(path, data)
}

func (c *countingFS) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[path]
}

func TestWriterCoalescesWithinWindow(t *testing.T) {
	fs := &countingFS{}
	w := NewWriter(80*time.Millisecond, WithFileWriter(fs.write))
	path := filepath.Join(t.TempDir(), "p.dsproj")

	require.NoError(t, w.Write(path, []byte("one")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w.Write(path, []byte("two")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w.Write(path, []byte("three")))

	assert.Equal(t, 0, fs.count(path), "nothing should reach disk inside the window")
	require.Eventually(t, func() bool { return fs.count(path) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, fs.count(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
	assert.Empty(t, w.Pending())
}

func TestWriterFlushAll(t *testing.T) {
	fs := &countingFS{}
	w := NewWriter(time.Hour, WithFileWriter(fs.write))
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dsproj")
	b := filepath.Join(dir, "b.dsproj")
	require.NoError(t, w.Write(a, []byte("a1")))
	require.NoError(t, w.Write(a, []byte("a2")))
	require.NoError(t, w.Write(b, []byte("b1")))

	require.NoError(t, w.FlushAll())
	assert.Empty(t, w.Pending())
	for path, want := range map[string]string{a: "a2", b: "b1"} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
		assert.Equal(t, 1, fs.count(path))
	}
}

func TestWriterReadPrefersBuffer(t *testing.T) {
	w := NewWriter(time.Hour)
	path := filepath.Join(t.TempDir(), "p.dsproj")
	require.NoError(t, os.WriteFile(path, []byte("disk"), 0o644))
	require.NoError(t, w.Write(path, []byte("buffered")))

	data, err := w.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "buffered", string(data))
}

func TestWriterCloseIsIdempotentAndWritesThrough(t *testing.T) {
	w := NewWriter(time.Hour)
	path := filepath.Join(t.TempDir(), "p.dsproj")
	require.NoError(t, w.Write(path, []byte("before")))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))

	require.NoError(t, w.Write(path, []byte("after")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after", string(data))
	assert.Empty(t, w.Pending())
}
