package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "iris/pkg/logx"
)

func create(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func list(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestCollectDeletesOnlyStale(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	create(t, dir, "a.prom", "b.prom", "c.prom", "iris_scheduler_error.prom")

	c := New(dir, []string{"iris_scheduler_error"}, logx.Nop())
	deleted, err := c.Collect([]string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "c.prom")}, deleted)
	assert.ElementsMatch(t, []string{"a.prom", "b.prom", "iris_scheduler_error.prom"}, list(t, dir))
}

func TestCollectEmptyActiveKeepsWhitelist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	create(t, dir, "x.prom", "notes.txt", "iris_garbage_collector_error.prom")

	deleted, err := New(dir, []string{"iris_garbage_collector_error"}, logx.Nop()).Collect(nil)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.Equal(t, []string{"iris_garbage_collector_error.prom"}, list(t, dir))
}

func TestCollectSkipsDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.prom"), 0o755))

	deleted, err := New(dir, nil, logx.Nop()).Collect(nil)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestCollectTempGrace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	create(t, dir, ".a.prom.1.tmp", ".gone.prom.2.tmp")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, ".gone.prom.2.tmp"), old, old))

	deleted, err := New(dir, nil, logx.Nop(), WithTempGrace(time.Minute)).Collect([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, ".gone.prom.2.tmp")}, deleted)
	assert.Equal(t, []string{".a.prom.1.tmp"}, list(t, dir))
}

func TestCollectMissingDir(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"), nil, logx.Nop()).Collect(nil)
	require.Error(t, err)
}

func TestCollectRemoveFailureIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	t.Parallel()

	dir := t.TempDir()
	create(t, dir, "stale.prom")
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	deleted, err := New(dir, nil, logx.Nop()).Collect(nil)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
