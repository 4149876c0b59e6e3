package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/metric"
	"iris/internal/scheduler"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTrackerUp(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker()
	tr.now = clk.Now

	assert.False(t, tr.Up("scheduler"), "unknown service")

	tr.Register("scheduler", 20*time.Second, true)
	assert.True(t, tr.Up("scheduler"), "freshly registered")

	clk.Advance(staleAfter(20*time.Second) + time.Second)
	assert.False(t, tr.Up("scheduler"), "never ran")

	started := tr.Begin("scheduler")
	assert.True(t, tr.Up("scheduler"), "running")
	clk.Advance(5 * time.Second)
	tr.End("scheduler", started, errors.New("lint failed"))
	assert.True(t, tr.Up("scheduler"), "failed runs still count as progress")

	started = tr.Begin("scheduler")
	clk.Advance(staleAfter(20*time.Second) + time.Second)
	assert.False(t, tr.Up("scheduler"), "stuck run")
	tr.End("scheduler", started, nil)
	assert.True(t, tr.Up("scheduler"))

	tr.Register("scheduler", 20*time.Second, false)
	assert.False(t, tr.Up("scheduler"), "disabled")

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(2), snap[0].Runs)
	assert.Equal(t, uint64(1), snap[0].Failures)
	assert.Empty(t, snap[0].LastErr)
}

func TestKVFields(t *testing.T) {
	t.Parallel()

	assert.Len(t, kvFields([]interface{}{"entry", 1, "next", "x"}), 2)
	assert.Len(t, kvFields([]interface{}{"odd"}), 1)
	assert.Empty(t, kvFields(nil))
}

func TestRunRecord(t *testing.T) {
	t.Parallel()

	started := time.Now()
	r := runRecord(scheduler.Outcome{
		Job: metric.Definition{Name: "answer"},
		Result: scheduler.Result{
			JobName:      "answer",
			PID:          42,
			TimedOut:     true,
			ReturnCode:   -1,
			NumericValue: scheduler.FailedValue,
			Started:      started,
			Duration:     1500 * time.Millisecond,
		},
		Err: errors.New("publish failed"),
	})
	assert.Equal(t, "answer", r.Job)
	assert.Equal(t, "-1", r.Value)
	assert.Equal(t, int64(1500), r.TookMS)
	assert.True(t, r.TimedOut)
	assert.Equal(t, "publish failed", r.Error)
	assert.Equal(t, started, r.At)
}
