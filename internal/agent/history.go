package agent

import (
	"context"
	"time"

	"iris/internal/eventbus"
	"iris/internal/expo"
	"iris/internal/scheduler"
	"iris/internal/storage"
	logx "iris/pkg/logx"
)

func runRecord(o scheduler.Outcome) storage.RunRecord {
	r := storage.RunRecord{
		At:         o.Result.Started,
		Job:        o.Job.Name,
		PID:        o.Result.PID,
		ReturnCode: o.Result.ReturnCode,
		TimedOut:   o.Result.TimedOut,
		Value:      expo.FormatFloat(o.Result.NumericValue),
		Output:     o.Result.RawOutput,
		TookMS:     o.Result.Duration.Milliseconds(),
		Published:  o.Published,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// recordHistory appends every job outcome published on events to the store
// until ctx is done or events is closed.
func (a *Agent) recordHistory(ctx context.Context, events <-chan eventbus.Event) error {
	log := a.log.Component("history")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			o, isOutcome := e.Data.(scheduler.Outcome)
			if e.Type != eventbus.JobOutcome || !isOutcome {
				continue
			}
			a.appendRun(o, log)
		}
	}
}

func (a *Agent) appendRun(o scheduler.Outcome, log logx.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(ctx, runRecord(o)); err != nil {
		log.Warn("run not recorded", logx.String("job", o.Job.Name), logx.Err(err))
	}
}
