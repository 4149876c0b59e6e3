package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// LoopStats is the per-name view of goroutines started via Go/GoRestart.
type LoopStats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Started     uint64        `json:"started"`
	Panics      uint64        `json:"panics"`
	Restarts    uint64        `json:"restarts"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastStopAt  time.Time     `json:"last_stop_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastErrAt   time.Time     `json:"last_err_at"`
	LastPanic   string        `json:"last_panic,omitempty"`
	LastRuntime time.Duration `json:"last_runtime"`
}

type Snapshot struct {
	Active     int64       `json:"active"`
	FirstError string      `json:"first_error,omitempty"`
	Loops      []LoopStats `json:"loops"`
}

// Snapshot is for debug output only.
func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{Loops: s.stats.list()}
	for _, l := range snap.Loops {
		snap.Active += l.Active
	}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	return snap
}

type statsTable struct {
	mu sync.Mutex
	m  map[string]*LoopStats
}

func (t *statsTable) get(name string) *LoopStats {
	if t.m == nil {
		t.m = map[string]*LoopStats{}
	}
	st := t.m[name]
	if st == nil {
		st = &LoopStats{Name: name}
		t.m[name] = st
	}
	return st
}

func (t *statsTable) start(name string, restart bool) time.Time {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	st.Started++
	st.Active++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = now
	return now
}

func (t *statsTable) stop(name string, startedAt time.Time, err error) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	if st.Active > 0 {
		st.Active--
	}
	st.LastStopAt = now
	st.LastRuntime = now.Sub(startedAt)
	if err != nil {
		st.LastErr = err.Error()
		st.LastErrAt = now
	}
}

func (t *statsTable) panicked(name string, p any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	st.Panics++
	st.LastPanic = fmt.Sprint(p)
}

func (t *statsTable) list() []LoopStats {
	t.mu.Lock()
	out := make([]LoopStats, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, *st)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active > out[j].Active
		}
		return out[i].Name < out[j].Name
	})
	return out
}
