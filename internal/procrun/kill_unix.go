//go:build unix

package procrun

import (
	"errors"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	logx "iris/pkg/logx"
)

func newProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killTree SIGKILLs the process group led by pid, then any descendant that
// moved to another group or session (setsid, nohup wrappers).
func killTree(pid int, log logx.Logger) error {
	strays := descendants(int32(pid))

	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		err = nil
	}

	for _, p := range strays {
		if kerr := unix.Kill(int(p), unix.SIGKILL); kerr != nil && !errors.Is(kerr, unix.ESRCH) {
			log.Debug("kill descendant failed", logx.Int("pid", int(p)), logx.Err(kerr))
		}
	}
	return err
}

// descendants walks the process table below pid. Errors are treated as
// "no more children": the group kill already covers the common case.
func descendants(pid int32) []int32 {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var out []int32
	queue := []int32{pid}
	seen := map[int32]struct{}{pid: {}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}
