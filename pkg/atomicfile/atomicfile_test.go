package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cpu.prom")

	require.NoError(t, WriteFile(path, []byte("one\n"), 0o644))
	require.NoError(t, WriteFile(path, []byte("two\n"), 0o644))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(b))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may be left behind")
}

func TestWriteFailureKeepsTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mem.prom")
	require.NoError(t, WriteFile(path, []byte("old\n"), 0o644))

	boom := errors.New("boom")
	err := Write(path, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteMissingDirFails(t *testing.T) {
	t.Parallel()
	err := WriteFile(filepath.Join(t.TempDir(), "nope", "x.prom"), []byte("x"), 0o644)
	require.Error(t, err)
}

func TestConcurrentReadersSeeWholeFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "disk.prom")
	a := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\n")
	b := []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\n")
	require.NoError(t, WriteFile(path, a, 0o644))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var bad []string
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			got, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if string(got) != string(a) && string(got) != string(b) {
				mu.Lock()
				bad = append(bad, string(got))
				mu.Unlock()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		data := a
		if i%2 == 0 {
			data = b
		}
		require.NoError(t, WriteFile(path, data, 0o644))
	}
	close(stop)
	wg.Wait()

	assert.Empty(t, bad, "reader observed a torn file")
}

func TestIsTemp(t *testing.T) {
	t.Parallel()
	assert.True(t, IsTemp("/x/.cpu.prom.123456.tmp"))
	assert.False(t, IsTemp("cpu.prom"))
	assert.False(t, IsTemp("cpu.tmp"))
}
