// Package gc removes published files that no current job or internal
// signal owns, so the textfile collector stops exporting retired metrics.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"iris/pkg/atomicfile"
	logx "iris/pkg/logx"
)

type Collector struct {
	dir       string
	whitelist map[string]struct{}
	tempGrace time.Duration
	now       func() time.Time
	log       logx.Logger
}

type Option func(*Collector)

// WithTempGrace spares in-flight temp files younger than d.
func WithTempGrace(d time.Duration) Option { return func(c *Collector) { c.tempGrace = d } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *Collector) { c.now = now } }

// New builds a collector over dir. whitelist holds base names (without
// extension) that are never deleted.
func New(dir string, whitelist []string, log logx.Logger, opts ...Option) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		dir:       dir,
		whitelist: make(map[string]struct{}, len(whitelist)),
		now:       time.Now,
		log:       log,
	}
	for _, w := range whitelist {
		c.whitelist[w] = struct{}{}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect deletes every regular file in the directory whose name without
// extension is neither in active nor whitelisted. Deletion failures are
// logged and skipped. Returns the deleted paths, sorted.
func (c *Collector) Collect(active []string) ([]string, error) {
	keep := make(map[string]struct{}, len(active)+len(c.whitelist))
	for _, a := range active {
		keep[a] = struct{}{}
	}
	for w := range c.whitelist {
		keep[w] = struct{}{}
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.dir, err)
	}

	now := c.now()
	var deleted []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if _, ok := keep[strings.TrimSuffix(name, filepath.Ext(name))]; ok {
			continue
		}
		path := filepath.Join(c.dir, name)

		if atomicfile.IsTemp(name) && c.tempGrace > 0 {
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) < c.tempGrace {
				continue
			}
		}

		if err := os.Remove(path); err != nil {
			c.log.Warn("could not remove stale file", logx.String("path", path), logx.Err(err))
			continue
		}
		deleted = append(deleted, path)
	}

	sort.Strings(deleted)
	if len(deleted) > 0 {
		c.log.Info("deleted stale files", logx.Strs("paths", deleted))
	} else {
		c.log.Debug("no stale files", logx.String("dir", c.dir))
	}
	return deleted, nil
}
