package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"iris/internal/eventbus"
	"iris/internal/expo"
	"iris/internal/metric"
	"iris/internal/procrun"
	logx "iris/pkg/logx"
)

// CommandRunner is satisfied by *procrun.Runner.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (procrun.Result, error)
}

// Outcome is what happened to one due job during a pass.
//
// Err is set for launch failures, publish failures, agent shutdown and
// recovered panics. A command that exited non-zero or timed out is not an
// error: its -1 result is published like any other.
type Outcome struct {
	Job       metric.Definition `json:"job"`
	Result    Result            `json:"result"`
	Path      string            `json:"path,omitempty"`
	Published bool              `json:"published"`
	Err       error             `json:"-"`
}

// Failed reports whether the job produced no usable value.
func (o Outcome) Failed() bool {
	return o.Err != nil || !o.Result.Valid
}

// CycleSummary aggregates one pass.
type CycleSummary struct {
	Due       int           `json:"due"`
	Published int           `json:"published"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	TimedOut  int           `json:"timed_out"`
	Took      time.Duration `json:"took"`
}

// Summarize counts the outcomes of one pass. took is how long the pass ran.
func Summarize(outcomes []Outcome, took time.Duration) CycleSummary {
	s := CycleSummary{Due: len(outcomes), Took: took}
	for _, o := range outcomes {
		if o.Published {
			s.Published++
		}
		if o.Failed() {
			s.Failed++
		}
		if o.Err != nil {
			s.Errors++
		}
		if o.Result.TimedOut {
			s.TimedOut++
		}
	}
	return s
}

// Options are the admission gates and hooks of a Scheduler. Zero values
// keep the plain behavior: every due job starts at once.
type Options struct {
	// MaxConcurrent bounds in-flight jobs; 0 means unbounded.
	MaxConcurrent int
	// LaunchRatePerSec bounds job starts per second; 0 means unlimited.
	LaunchRatePerSec float64

	// Clock defaults to time.Now.
	Clock func() time.Time
	// Bus receives JobOutcome and CycleDone events; nil disables them.
	Bus eventbus.Bus
}

// Scheduler runs passes over a job set. One value may serve many passes
// but each Run is independent; no state is kept between them.
type Scheduler struct {
	runner  CommandRunner
	pub     *expo.Publisher
	opts    Options
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a Scheduler that runs jobs through runner and publishes
// through pub. A zero logger discards output.
func New(runner CommandRunner, pub *expo.Publisher, opts Options, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	s := &Scheduler{runner: runner, pub: pub, opts: opts, log: log}
	if opts.LaunchRatePerSec > 0 {
		burst := int(opts.LaunchRatePerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.LaunchRatePerSec), burst)
	}
	return s
}

// Run performs exactly one pass and returns one Outcome per due job, in
// selection order. It returns nil (and writes nothing) when nothing is due.
// A failing job never affects the others.
func (s *Scheduler) Run(ctx context.Context, defs []metric.Definition) []Outcome {
	started := s.opts.Clock()
	due := SelectDue(s.pub.Dir(), defs, started, s.log)
	if len(due) == 0 {
		s.log.Debug("no jobs due", logx.Int("jobs", len(defs)))
		return nil
	}
	s.log.Info("running due jobs", logx.Int("due", len(due)), logx.Int("jobs", len(defs)))

	outcomes := make([]Outcome, len(due))
	var g errgroup.Group
	if s.opts.MaxConcurrent > 0 {
		g.SetLimit(s.opts.MaxConcurrent)
	}
	for i, def := range due {
		i, def := i, def
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				outcomes[i] = Outcome{Job: def, Result: Result{JobName: def.Name}, Err: fmt.Errorf("launch gate: %w", err)}
				continue
			}
		}
		g.Go(func() error {
			outcomes[i] = s.runOne(ctx, def)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(outcomes, time.Since(started))
	for _, o := range outcomes {
		s.opts.Bus.Publish(eventbus.Event{Type: eventbus.JobOutcome, Data: o})
	}
	s.opts.Bus.Publish(eventbus.Event{Type: eventbus.CycleDone, Data: summary})

	s.log.Info("cycle finished",
		logx.Int("due", summary.Due),
		logx.Int("published", summary.Published),
		logx.Int("failed", summary.Failed),
		logx.Int("errors", summary.Errors),
		logx.Duration("took", summary.Took),
	)
	return outcomes
}

// runOne is the unit of work: run, interpret, publish. Panics are turned
// into an error outcome for this job only.
func (s *Scheduler) runOne(ctx context.Context, def metric.Definition) (out Outcome) {
	out.Job = def
	out.Result = Result{JobName: def.Name, NumericValue: FailedValue}
	log := s.log.With(logx.String("job", def.Name))

	defer func() {
		if r := recover(); r != nil {
			out.Published = false
			out.Err = fmt.Errorf("panic in job %s: %v", def.Name, r)
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	timeout := time.Duration(def.ExecutionTimeout) * time.Second
	res, err := s.runner.Run(ctx, def.Command, timeout)
	if err != nil {
		out.Result.PID = res.PID
		out.Err = err
		log.Error("job did not run", logx.Err(err))
		return out
	}

	out.Result = Interpret(def, res, log)
	if out.Result.TimedOut {
		log.Warn("job timed out", logx.Int("pid", res.PID), logx.Duration("timeout", timeout))
	}

	path, err := s.pub.PublishJob(def, out.Result.NumericValue, out.Result.ReturnCode)
	if err != nil {
		out.Err = fmt.Errorf("publish %s: %w", def.Name, err)
		log.Error("job result not published", logx.Err(err))
		return out
	}
	out.Path = path
	out.Published = true

	log.Debug("job finished",
		logx.Int("pid", out.Result.PID),
		logx.Int("return_code", out.Result.ReturnCode),
		logx.Float64("value", out.Result.NumericValue),
		logx.String("output", out.Result.RawOutput),
		logx.Duration("took", out.Result.Duration),
	)
	return out
}
