package scheduler

import (
	"strconv"
	"strings"
	"time"

	"iris/internal/metric"
	"iris/internal/procrun"
	logx "iris/pkg/logx"
)

// FailedValue is published whenever a job did not produce a usable number.
const FailedValue = -1.0

// Result is the interpreted outcome of one command execution.
type Result struct {
	JobName      string        `json:"job_name"`
	PID          int           `json:"pid"`
	TimedOut     bool          `json:"timed_out"`
	ReturnCode   int           `json:"return_code"`
	RawOutput    string        `json:"raw_output"`
	NumericValue float64       `json:"numeric_value"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`

	// Valid is true when NumericValue came from the command output.
	Valid bool `json:"valid"`
}

// Interpret maps a process result to the published value: the parsed output
// for a clean exit, FailedValue otherwise. A clean exit with non-numeric
// output is the job author's bug and is logged as a warning.
func Interpret(def metric.Definition, res procrun.Result, log logx.Logger) Result {
	out := Result{
		JobName:      def.Name,
		PID:          res.PID,
		TimedOut:     res.TimedOut,
		ReturnCode:   res.ExitCode,
		RawOutput:    res.Output,
		NumericValue: FailedValue,
		Started:      res.Started,
		Duration:     res.Duration,
	}
	if res.TimedOut || res.ExitCode != 0 {
		return out
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(res.Output), 64)
	if err != nil {
		if log.IsZero() {
			log = logx.Nop()
		}
		log.Warn("job must print a number",
			logx.String("job", def.Name),
			logx.String("command", def.Command),
			logx.String("output", res.Output),
		)
		return out
	}
	out.NumericValue = v
	out.Valid = true
	return out
}
