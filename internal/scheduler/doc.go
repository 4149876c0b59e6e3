// Package scheduler runs one pass over the metric jobs of a host: select
// the jobs whose published file is older than their frequency, run each in
// its own goroutine, interpret the output and atomically publish the result.
//
// The scheduler is stateless between passes. The mtime of <dir>/<job>.prom
// is the only record of when a job last ran, so a restarted agent picks up
// exactly where the previous one left off.
package scheduler
