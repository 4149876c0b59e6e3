package procrun

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "iris/pkg/logx"
)

func newTestRunner(limit int) *Runner {
	return New(Config{Shell: "/bin/sh", OutputLimit: limit, KillWait: 500 * time.Millisecond}, logx.Nop())
}

func TestRunCases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		command string
		code    int
		output  string
	}{
		{"stdout number", "echo 5", 0, "5"},
		{"stdout trimmed", "printf '  3.5 \\n\\n'", 0, "3.5"},
		{"stderr fallback", "echo oops >&2; exit 3", 3, "oops"},
		{"stdout wins over stderr", "echo out; echo err >&2", 0, "out"},
		{"non-zero with stdout", "echo 7; exit 1", 1, "7"},
		{"pipeline", "printf 'a\\nb\\nc\\n' | wc -l", 0, "3"},
		{"empty", "true", 0, ""},
		{"signaled", "kill -TERM $$", -15, ""},
	}
	r := newTestRunner(0)
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := r.Run(context.Background(), tc.command, 5*time.Second)
			require.NoError(t, err)
			assert.False(t, res.TimedOut)
			assert.Equal(t, tc.code, res.ExitCode)
			assert.Equal(t, tc.output, res.Output)
			assert.Positive(t, res.PID)
		})
	}
}

func TestRunOutputLimit(t *testing.T) {
	t.Parallel()

	res, err := newTestRunner(4).Run(context.Background(), "echo 123456789", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1234", res.Output)
}

func TestRunLaunchError(t *testing.T) {
	t.Parallel()

	r := New(Config{Shell: filepath.Join(t.TempDir(), "no-such-shell")}, logx.Nop())
	_, err := r.Run(context.Background(), "echo 1", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLaunch))
}

func gone(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return true
	}
	st, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range st {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

func waitGone(t *testing.T, pid int) {
	t.Helper()
	assert.Eventually(t, func() bool { return gone(pid) }, 3*time.Second, 20*time.Millisecond,
		"pid %d survived the job timeout", pid)
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	return pid
}

func TestRunTimeoutKillsGroup(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "bg.pid")
	cmd := "sleep 30 & echo $! > " + pidFile + "; sleep 30 | cat; wait"

	start := time.Now()
	res, err := newTestRunner(0).Run(context.Background(), cmd, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, TimeoutOutput, res.Output)

	waitGone(t, res.PID)
	waitGone(t, readPID(t, pidFile))
}

func TestRunTimeoutKillsSessionLeaver(t *testing.T) {
	if _, err := os.Stat("/usr/bin/setsid"); err != nil {
		t.Skip("setsid not available")
	}
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "escaped.pid")
	cmd := "/usr/bin/setsid sh -c 'echo $$ > " + pidFile + "; exec sleep 30' & sleep 30"

	res, err := newTestRunner(0).Run(context.Background(), cmd, 500*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.TimedOut)

	waitGone(t, readPID(t, pidFile))
}

func TestRunParentCancelIsNotTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := newTestRunner(0).Run(ctx, "sleep 30", 10*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, res.TimedOut)
	waitGone(t, res.PID)
}

func TestRunLingeringGrandchildDoesNotBlock(t *testing.T) {
	t.Parallel()

	start := time.Now()
	res, err := newTestRunner(0).Run(context.Background(), "sleep 30 & echo 9", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "9", res.Output)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCappedWriter(t *testing.T) {
	t.Parallel()

	c := newCapped(5)
	n, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = c.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", string(c.Bytes()))
}
