package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "iris/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.ErrorIs(t, err, ErrDisabled)
		assert.Nil(t, st)
	}

	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestFileStoreRecentRuns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history", "iris.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 7; i++ {
		job := "load_avg"
		if i%2 == 1 {
			job = "disk_used"
		}
		require.NoError(t, st.AppendRun(ctx, RunRecord{
			At:    base.Add(time.Duration(i) * time.Second),
			Job:   job,
			Value: strconv.Itoa(i),
		}))
	}
	require.NoError(t, st.AppendRun(ctx, RunRecord{Job: "weird", Value: "NaN", ReturnCode: -1, TimedOut: true}))

	runs, err := st.RecentRuns(ctx, "load_avg", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"6", "4", "2"}, []string{runs[0].Value, runs[1].Value, runs[2].Value})
	for _, r := range runs {
		_, err := uuid.Parse(r.ID)
		assert.NoError(t, err)
	}

	runs, err = st.RecentRuns(ctx, "disk_used", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	assert.Equal(t, "5", runs[0].Value)

	runs, err = st.RecentRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "weird", runs[0].Job)
	assert.True(t, runs[0].TimedOut)
	assert.False(t, runs[0].At.IsZero())

	runs, err = st.RecentRuns(ctx, "unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFileStoreSurvivesReopenAndGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "iris.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendRun(context.Background(), RunRecord{Job: "a", Value: "1"}))
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	require.Error(t, st.AppendRun(context.Background(), RunRecord{Job: "a"}))

	runsPath := filepath.Join(filepath.Dir(path), "iris.runs.jsonl")
	f, err := os.OpenFile(runsPath, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.AppendRun(context.Background(), RunRecord{Job: "a", Value: "2"}))

	runs, err := st.RecentRuns(context.Background(), "a", 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2", runs[0].Value)
	assert.Equal(t, "1", runs[1].Value)
}
