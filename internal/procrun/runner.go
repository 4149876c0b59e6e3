package procrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	logx "iris/pkg/logx"
)

// ErrLaunch wraps failures to start the shell. Non-zero exits are not errors.
var ErrLaunch = errors.New("launch failed")

// TimeoutOutput is the raw output recorded for a timed out command.
const TimeoutOutput = "TIMEOUT"

type Config struct {
	// Shell is invoked as <Shell> -c <command>.
	Shell string
	// OutputLimit caps captured bytes per stream; 0 means unlimited.
	OutputLimit int
	// KillWait bounds how long Wait may block on inherited pipes after the
	// child exited or was killed.
	KillWait time.Duration
}

// Result is the outcome of one finished (or killed) command.
type Result struct {
	PID      int
	TimedOut bool
	ExitCode int
	Output   string
	Started  time.Time
	Duration time.Duration
}

type Runner struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Runner {
	if strings.TrimSpace(cfg.Shell) == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, log: log}
}

// Run executes command and waits at most timeout (0 disables the deadline).
//
// On deadline expiry the process group is killed and the result has
// TimedOut=true, ExitCode=-1, Output="TIMEOUT". Cancellation of ctx also
// kills the group but returns ctx.Err() instead of a result.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stdout := newCapped(r.cfg.OutputLimit)
	stderr := newCapped(r.cfg.OutputLimit)

	cmd := exec.CommandContext(runCtx, r.cfg.Shell, "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = newProcAttr()
	cmd.WaitDelay = r.cfg.KillWait
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killTree(cmd.Process.Pid, r.log)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %s -c: %v", ErrLaunch, r.cfg.Shell, err)
	}
	pid := cmd.Process.Pid
	r.log.Debug("command started", logx.Int("pid", pid), logx.Duration("timeout", timeout))

	waitErr := cmd.Wait()
	res := Result{PID: pid, Started: started, Duration: time.Since(started)}

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command %d cancelled: %w", pid, ctxErr)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			res.ExitCode = -1
			res.Output = TimeoutOutput
			r.log.Debug("command timed out", logx.Int("pid", pid), logx.Duration("timeout", timeout))
			return res, nil
		}
	}

	// Exited on its own (possibly with a lingering grandchild holding the
	// pipes, which WaitDelay cut off). Reap whatever is left in the group.
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		_ = killTree(pid, r.log)
	}

	res.ExitCode = exitCode(cmd.ProcessState, waitErr)
	res.Output = pickOutput(stdout.Bytes(), stderr.Bytes())
	return res, nil
}

// pickOutput prefers stdout whenever it produced any bytes at all.
func pickOutput(stdout, stderr []byte) string {
	if len(stdout) > 0 {
		return strings.TrimSpace(string(stdout))
	}
	return strings.TrimSpace(string(stderr))
}

// exitCode mirrors the shell convention: the exit status, or -signal when
// the process was terminated by a signal.
func exitCode(ps *os.ProcessState, waitErr error) int {
	if ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return -int(ws.Signal())
			}
			return ws.ExitStatus()
		}
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		return ee.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
