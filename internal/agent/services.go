package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"iris/internal/config"
	"iris/internal/configsvc"
	"iris/internal/eventbus"
	"iris/internal/expo"
	"iris/internal/gc"
	"iris/internal/hostinfo"
	"iris/internal/metric"
	"iris/internal/procrun"
	"iris/internal/scheduler"
	logx "iris/pkg/logx"
)

// Service names. They also name the iris_<service>_up gauges.
const (
	ServiceScheduler        = "scheduler"
	ServiceConfigService    = "config_service"
	ServiceGarbageCollector = "garbage_collector"
	ServiceMonitor          = "monitor"
)

// Supervised are the services the monitor reports on.
var Supervised = []string{ServiceScheduler, ServiceConfigService, ServiceGarbageCollector}

type service struct {
	name     string
	interval func(*config.Config) time.Duration
	enabled  func(*config.Config) bool
	run      func(ctx context.Context) error
}

func (a *Agent) services() []service {
	return []service{
		{
			name:     ServiceScheduler,
			interval: func(c *config.Config) time.Duration { return c.Scheduler.IntervalDuration() },
			enabled:  func(c *config.Config) bool { return config.Enabled(c.Scheduler.Enabled, true) },
			run: func(ctx context.Context) error {
				_, err := a.RunScheduler(ctx, a.Config().Scheduler.ConfigWaitDuration())
				return err
			},
		},
		{
			name:     ServiceConfigService,
			interval: func(c *config.Config) time.Duration { return c.ConfigService.IntervalDuration() },
			enabled:  func(c *config.Config) bool { return config.Enabled(c.ConfigService.Enabled, true) },
			run: func(ctx context.Context) error {
				_, err := a.RunConfigService(ctx)
				return err
			},
		},
		{
			name:     ServiceGarbageCollector,
			interval: func(c *config.Config) time.Duration { return c.GarbageCollector.IntervalDuration() },
			enabled:  func(c *config.Config) bool { return config.Enabled(c.GarbageCollector.Enabled, true) },
			run: func(ctx context.Context) error {
				_, err := a.RunGarbageCollector(ctx)
				return err
			},
		},
		{
			name:     ServiceMonitor,
			interval: func(c *config.Config) time.Duration { return c.Monitor.IntervalDuration() },
			enabled:  func(*config.Config) bool { return true },
			run: func(ctx context.Context) error {
				a.RunMonitor(ctx)
				return nil
			},
		},
	}
}

// RunScheduler runs one scheduler pass over local_config.json. It waits up
// to wait for the config service to produce the config files first.
func (a *Agent) RunScheduler(ctx context.Context, wait time.Duration) (scheduler.CycleSummary, error) {
	cfg := a.Config()
	paths := cfg.Paths()
	log := a.log.Component(ServiceScheduler)

	defs, err := a.loadLocalConfig(ctx, log, wait)
	if err != nil {
		a.setFlag(expo.SchedulerError, "scheduler failed on its last run", true)
		return scheduler.CycleSummary{}, err
	}
	if err := a.pub.EnsureDir(); err != nil {
		a.setFlag(expo.SchedulerError, "scheduler failed on its last run", true)
		return scheduler.CycleSummary{}, fmt.Errorf("prom dir %s: %w", paths.PromDir, err)
	}

	runner := procrun.New(procrun.Config{
		Shell:       cfg.Scheduler.Shell,
		OutputLimit: cfg.Scheduler.OutputLimitBytes,
		KillWait:    cfg.Scheduler.KillWaitDuration(),
	}, log)
	s := scheduler.New(runner, a.pub, scheduler.Options{
		MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
		LaunchRatePerSec: cfg.Scheduler.LaunchRatePerSec,
		Bus:              a.bus,
	}, log)

	started := time.Now()
	outcomes := s.Run(ctx, metric.Sorted(defs))
	summary := scheduler.Summarize(outcomes, time.Since(started))
	if a.store != nil && !a.recording.Load() {
		// One-shot use: nobody consumes the bus.
		for _, o := range outcomes {
			a.appendRun(o, log)
		}
	}

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	a.setFlag(expo.SchedulerError, "scheduler failed on its last run", false)
	a.setGauge(expo.SchedulerFailedJobs, "jobs that produced no value on the last scheduler run", float64(summary.Failed), nil)
	return summary, nil
}

func (a *Agent) loadLocalConfig(ctx context.Context, log logx.Logger, wait time.Duration) (map[string]metric.Definition, error) {
	paths := a.Config().Paths()
	if err := waitForFiles(ctx, log, wait, paths.GlobalConfig, paths.LocalConfig); err != nil {
		return nil, err
	}
	lint := metric.NewLinter(log, expo.InternalNames(Supervised...)...)
	g, err := lint.LintGlobalConfig(paths.GlobalConfig)
	if err != nil {
		return nil, err
	}
	return lint.LintLocalConfig(g, paths.LocalConfig)
}

// waitForFiles polls until every path exists or wait elapses.
func waitForFiles(ctx context.Context, log logx.Logger, wait time.Duration, paths ...string) error {
	deadline := time.Now().Add(wait)
	logged := false
	for {
		var missing []string
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("config files not available after %s: %v", wait, missing)
		}
		if !logged {
			log.Info("waiting for config files", logx.Strs("missing", missing), logx.Duration("max_wait", wait))
			logged = true
		}
		t := time.NewTimer(500 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunConfigService runs one config service pass.
func (a *Agent) RunConfigService(ctx context.Context) (configsvc.Report, error) {
	svc, err := a.configService(ctx)
	if err != nil {
		a.setFlag(expo.ConfigServiceError, "config service failed on its last run", true)
		return configsvc.Report{}, err
	}
	rep, err := svc.RunOnce(ctx)
	if err == nil {
		host := rep.Host
		a.host.Store(&host)
	}
	return rep, err
}

// Download refreshes the download dir without linting or matching.
func (a *Agent) Download(ctx context.Context) ([]string, error) {
	svc, err := a.configService(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Download(ctx)
}

func (a *Agent) configService(ctx context.Context) (*configsvc.Service, error) {
	if s := a.cfgsvc.Load(); s != nil {
		return s, nil
	}
	cfg := a.Config()
	log := a.log.Component(ServiceConfigService)

	src := a.source
	if src == nil {
		var err error
		if src, err = configsvc.NewSource(ctx, cfg.ConfigService, log); err != nil {
			return nil, err
		}
	}
	tags := a.tags
	if tags == nil {
		var err error
		if tags, err = configsvc.NewTagProvider(cfg.ConfigService.Tags, log); err != nil {
			return nil, err
		}
	}
	s := configsvc.New(configsvc.Options{
		Source:   src,
		Tags:     tags,
		Keys:     configsvc.TagKeys(cfg.ConfigService.Tags),
		Paths:    cfg.Paths(),
		Health:   a.health,
		Bus:      a.bus,
		Reserved: expo.InternalNames(Supervised...),
	}, log)
	if !a.cfgsvc.CompareAndSwap(nil, s) {
		return a.cfgsvc.Load(), nil
	}
	return s, nil
}

// RunGarbageCollector deletes .prom files that belong to no configured
// metric. Nothing is deleted when the local config cannot be read.
func (a *Agent) RunGarbageCollector(ctx context.Context) ([]string, error) {
	cfg := a.Config()
	log := a.log.Component(ServiceGarbageCollector)

	deleted, err := a.collect(ctx, cfg, log)
	a.setFlag(expo.GCError, "garbage collector failed on its last run", err != nil)
	if err != nil {
		log.Error("garbage collection failed", logx.Err(err))
		return nil, err
	}
	a.setGauge(expo.GCDeletedFiles, "stale files deleted by the last garbage collector run", float64(len(deleted)), nil)
	if len(deleted) > 0 {
		a.bus.Publish(eventbus.Event{Type: eventbus.StaleDeleted, Data: deleted})
	}
	return deleted, nil
}

func (a *Agent) collect(ctx context.Context, cfg *config.Config, log logx.Logger) ([]string, error) {
	defs, err := a.loadLocalConfig(ctx, log, 0)
	if err != nil {
		return nil, err
	}
	if err := a.pub.EnsureDir(); err != nil {
		return nil, err
	}
	c := gc.New(cfg.Paths().PromDir, expo.InternalNames(Supervised...), log,
		gc.WithTempGrace(cfg.GarbageCollector.TempGraceDuration()))
	return c.Collect(metric.Names(defs))
}

// RunMonitor publishes iris_<service>_up for every supervised service and
// re-checks the debug flag file.
func (a *Agent) RunMonitor(_ context.Context) {
	log := a.log.Component(ServiceMonitor)
	if a.logs != nil && a.logs.RefreshDebugFlag() {
		log.Info("debug flag changed; logging reconfigured")
	}

	labels := a.upLabels()
	for _, name := range Supervised {
		up := a.tracker.Up(name)
		a.setFlag(expo.UpName(name), "whether the "+name+" service is running", up, labels)
		if !up {
			log.Warn("service is not making progress", logx.String("service", name))
		}
	}
}

func (a *Agent) upLabels() prometheus.Labels {
	var host hostinfo.HostTags
	if h := a.host.Load(); h != nil {
		host = *h
	}
	if host.HostName == "" {
		host.HostName, _ = os.Hostname()
	}
	return prometheus.Labels{
		"host_name":    host.HostName,
		"environment":  host.Environment,
		"iris_profile": host.Profile,
	}
}

func (a *Agent) setFlag(name, help string, on bool, labels ...prometheus.Labels) {
	v := 0.0
	if on {
		v = 1
	}
	var l prometheus.Labels
	if len(labels) > 0 {
		l = labels[0]
	}
	a.setGauge(name, help, v, l)
}

func (a *Agent) setGauge(name, help string, v float64, labels prometheus.Labels) {
	if err := a.health.SetGauge(name, help, v, labels); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("health gauge not written", logx.String("metric", name), logx.Err(err))
	}
}
