package scheduler

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"iris/internal/expo"
	"iris/internal/metric"
	logx "iris/pkg/logx"
)

// SelectDue returns the jobs that must run now, in input order.
//
// A job is due when <dir>/<name>.prom does not exist, or when
// now - mtime >= frequency. A published failure refreshes the mtime too, so
// failing jobs are retried at their normal cadence. Jobs exported through
// pushgateway are never selected.
func SelectDue(dir string, defs []metric.Definition, now time.Time, log logx.Logger) []metric.Definition {
	if log.IsZero() {
		log = logx.Nop()
	}
	due := make([]metric.Definition, 0, len(defs))
	var skipped []string
	for _, def := range defs {
		if def.ExportMethod != metric.ExportTextfile {
			skipped = append(skipped, def.Name)
			continue
		}
		path := filepath.Join(dir, def.Name+expo.FileExt)
		st, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Debug("job never published; due", logx.String("job", def.Name))
			due = append(due, def)
		case err != nil:
			log.Warn("stat failed; treating job as due", logx.String("job", def.Name), logx.Err(err))
			due = append(due, def)
		default:
			freq := time.Duration(def.ExecutionFrequency) * time.Second
			if now.Sub(st.ModTime()) >= freq {
				due = append(due, def)
			} else {
				log.Trace("job not due yet", logx.String("job", def.Name),
					logx.Duration("next_in", freq-now.Sub(st.ModTime())))
			}
		}
	}
	if len(skipped) > 0 {
		log.Info("skipping jobs with unsupported export method",
			logx.String("export_method", string(metric.ExportPushgateway)),
			logx.Strs("jobs", skipped))
	}
	return due
}
