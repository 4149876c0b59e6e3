package agent

import (
	"sort"
	"sync"
	"time"
)

// ServiceState is what the tracker knows about one periodic service.
type ServiceState struct {
	Name         string        `json:"name"`
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	Registered   time.Time     `json:"registered"`
	LastStart    time.Time     `json:"last_start"`
	LastFinish   time.Time     `json:"last_finish"`
	LastDuration time.Duration `json:"last_duration"`
	LastErr      string        `json:"last_err,omitempty"`
}

// Tracker records service runs for the up gauges, the watchdog and /healthz.
type Tracker struct {
	mu  sync.Mutex
	m   map[string]*ServiceState
	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{m: map[string]*ServiceState{}, now: time.Now}
}

func (t *Tracker) state(name string) *ServiceState {
	st := t.m[name]
	if st == nil {
		st = &ServiceState{Name: name, Registered: t.now()}
		t.m[name] = st
	}
	return st
}

// Register (re)declares a service. Changing the interval or enabling a
// service restarts its staleness clock.
func (t *Tracker) Register(name string, interval time.Duration, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state(name)
	if st.Interval != interval || st.Enabled != enabled {
		st.Registered = t.now()
	}
	st.Interval = interval
	st.Enabled = enabled
}

func (t *Tracker) Begin(name string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	st := t.state(name)
	st.Running = true
	st.LastStart = now
	return now
}

func (t *Tracker) End(name string, started time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	st := t.state(name)
	st.Running = false
	st.Runs++
	st.LastFinish = now
	st.LastDuration = now.Sub(started)
	st.LastErr = ""
	if err != nil {
		st.Failures++
		st.LastErr = err.Error()
	}
}

// staleAfter is how long a service may go without finishing a run.
func staleAfter(interval time.Duration) time.Duration {
	return 3*interval + time.Minute
}

// Up reports whether an enabled service is making progress: it finished a
// run (or was registered) recently, or a run in flight has not overstayed.
// Failed runs still count as progress; the error gauges cover those.
func (t *Tracker) Up(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.m[name]
	if !ok || !st.Enabled {
		return false
	}
	now := t.now()
	limit := staleAfter(st.Interval)
	if st.Running {
		return now.Sub(st.LastStart) <= limit
	}
	ref := st.LastFinish
	if ref.Before(st.Registered) {
		ref = st.Registered
	}
	return now.Sub(ref) <= limit
}

func (t *Tracker) Snapshot() []ServiceState {
	t.mu.Lock()
	out := make([]ServiceState, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, *st)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
