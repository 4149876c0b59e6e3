package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file (sqlite build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one executed job.
// Value is the printed number as text so NaN and ±Inf survive JSON.
type RunRecord struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Job        string    `json:"job"`
	PID        int       `json:"pid,omitempty"`
	ReturnCode int       `json:"rc"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Value      string    `json:"value"`
	Output     string    `json:"output,omitempty"`
	TookMS     int64     `json:"took_ms"`
	Published  bool      `json:"published"`
	Error      string    `json:"error,omitempty"`
}

// fill assigns an ID and timestamp when the caller left them empty.
func (r *RunRecord) fill() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
}
