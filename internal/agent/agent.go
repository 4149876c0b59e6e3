// Package agent wires the iris services into one long-running process:
// cron-triggered scheduler, config service, garbage collector and monitor,
// plus hot reload, run history, systemd notification and the debug server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"iris/internal/config"
	"iris/internal/configsvc"
	"iris/internal/debugsrv"
	"iris/internal/eventbus"
	"iris/internal/expo"
	"iris/internal/hostinfo"
	"iris/internal/runtime/supervisor"
	"iris/internal/storage"
	logx "iris/pkg/logx"
	"iris/pkg/systemd"
)

type Agent struct {
	cfgm *config.ConfigManager
	cfg  atomic.Pointer[config.Config]

	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	pub     *expo.Publisher
	health  *expo.Health
	tracker *Tracker

	// recording is set while the history loop consumes JobOutcome events.
	recording atomic.Bool

	// source and tags override the configured ones (tests).
	source configsvc.Source
	tags   hostinfo.Provider
	cfgsvc atomic.Pointer[configsvc.Service]
	host   atomic.Pointer[hostinfo.HostTags]

	notifier *systemd.Notifier
	debug    *debugsrv.Server
	sup      *supervisor.Supervisor

	cronMu  sync.Mutex
	cron    *cron.Cron
	entries map[string]*cronEntry
}

type cronEntry struct {
	id    cron.EntryID
	every time.Duration
	job   cron.Job
}

type Option func(*Agent)

// WithSource replaces the configured config source.
func WithSource(src configsvc.Source) Option { return func(a *Agent) { a.source = src } }

// WithTagProvider replaces the configured tag provider.
func WithTagProvider(p hostinfo.Provider) Option { return func(a *Agent) { a.tags = p } }

// New loads the config file at path and builds an agent. Nothing runs until
// Start (daemon) or one of the Run* methods (one-shot).
func New(path string, opts ...Option) (*Agent, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.Component("config"))

	a := &Agent{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		tracker: NewTracker(),
		entries: map[string]*cronEntry{},
	}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}

	a.pub = expo.NewPublisher(cfg.Paths().PromDir, log.Component("expo"))
	a.health = expo.NewHealth(a.pub, log.Component("health"))
	a.notifier = systemd.NewNotifier(cfg.Systemd.Notify, log.Component("systemd"))
	a.debug = debugsrv.New(a.Status, log.Component("debugsrv"))

	if cfg.Storage != nil {
		st, err := storage.Open(storageConfig(cfg.Storage), log.Component("storage"))
		switch {
		case errors.Is(err, storage.ErrDisabled):
		case err != nil:
			_ = logs.Close()
			return nil, fmt.Errorf("open run history: %w", err)
		default:
			a.store = st
			log.Info("run history enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}
	return a, nil
}

func (a *Agent) Config() *config.Config { return a.cfg.Load() }

func (a *Agent) Logger() logx.Logger { return a.log }

// Store is the run history, nil when disabled.
func (a *Agent) Store() storage.Store { return a.store }

// Close releases what New opened. Call it after Stop, or after one-shot use.
func (a *Agent) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}

// Run starts the agent and blocks until ctx is done or a fatal error.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.sup.Context().Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}

func (a *Agent) Start(ctx context.Context) error {
	cfg := a.Config()
	if err := a.pub.EnsureDir(); err != nil {
		return fmt.Errorf("prom dir: %w", err)
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.Component("supervisor")))
	a.cfgm.SetValidator(a.validateReload)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.recording.Store(true)
		a.sup.Go("history", func(c context.Context) error {
			defer a.recording.Store(false)
			defer unsub()
			return a.recordHistory(c, events)
		})
	}

	clog := cronLogger{log: a.log.Component("cron")}
	a.cron = cron.New(cron.WithLogger(clog))
	chain := cron.NewChain(cron.Recover(clog), cron.SkipIfStillRunning(clog))
	for _, svc := range a.services() {
		svc := svc
		a.entries[svc.name] = &cronEntry{job: chain.Then(cron.FuncJob(func() { a.runService(svc) }))}
		a.schedule(svc, cfg)
	}
	a.sup.Go("cron", func(c context.Context) error {
		a.cron.Start()
		<-c.Done()
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-time.After(cfg.Scheduler.KillWaitDuration() + 10*time.Second):
			a.log.Warn("cron jobs still running at shutdown")
		}
		return nil
	})

	// First pass right away instead of one interval from now.
	for _, svc := range a.services() {
		if !svc.enabled(cfg) {
			continue
		}
		job := a.entries[svc.name].job
		a.sup.Go("kickoff."+svc.name, func(context.Context) error {
			job.Run()
			return nil
		})
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	if err := a.debug.Apply(ctx, debugConfig(cfg)); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.notifier.Watchdog(c, a.healthy)
	})
	a.notifier.Ready()
	a.notifier.Status("running")

	a.log.Info("iris started",
		logx.String("root", cfg.RootPath),
		logx.String("mode", cfg.Mode),
		logx.String("source", cfg.ConfigService.Source),
	)
	return nil
}

// Stop cancels every loop and waits for in-flight work.
func (a *Agent) Stop(ctx context.Context) error {
	a.notifier.Stopping()
	a.debug.Stop(ctx)
	if a.sup == nil {
		return nil
	}
	err := a.sup.Stop(ctx)
	a.log.Info("iris stopped", logx.Err(err))
	return err
}

// runService is the cron job body of one service.
func (a *Agent) runService(svc service) {
	ctx := a.sup.Context()
	if ctx.Err() != nil {
		return
	}
	started := a.tracker.Begin(svc.name)
	defer func() {
		if r := recover(); r != nil {
			a.tracker.End(svc.name, started, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err := svc.run(ctx)
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	a.tracker.End(svc.name, started, err)
}

// schedule adds, removes or re-times the cron entry of svc to match cfg.
func (a *Agent) schedule(svc service, cfg *config.Config) {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	e := a.entries[svc.name]
	every := svc.interval(cfg)
	on := svc.enabled(cfg)
	if e.id != 0 && (!on || e.every != every) {
		a.cron.Remove(e.id)
		e.id = 0
	}
	if on && e.id == 0 {
		e.id = a.cron.Schedule(cron.Every(every), e.job)
		e.every = every
		a.log.Debug("service scheduled", logx.String("service", svc.name), logx.Duration("every", every))
	}
	a.tracker.Register(svc.name, every, on)
}

func (a *Agent) validateReload(_ context.Context, next *config.Config) error {
	cur := a.Config()
	if cur != nil && next.RootPath != cur.RootPath {
		return fmt.Errorf("root_path cannot change while running (%s -> %s)", cur.RootPath, next.RootPath)
	}
	return nil
}

func (a *Agent) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next != nil {
				a.applyConfig(ctx, next)
			}
		}
	}
}

func (a *Agent) applyConfig(ctx context.Context, next *config.Config) {
	prev := a.Config()
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
	a.notifier.Reloading()
	defer a.notifier.Ready()

	a.cfg.Store(next)
	a.logs.Apply(logConfig(next))

	for _, s := range sections {
		switch s {
		case "config_service":
			a.cfgsvc.Store(nil)
		case "pprof":
			if err := a.debug.Apply(ctx, debugConfig(next)); err != nil {
				a.log.Warn("debug server not reconfigured", logx.Err(err))
			}
		case "storage", "systemd":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	for _, svc := range a.services() {
		a.schedule(svc, next)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

// healthy gates the systemd watchdog: every enabled supervised service is up.
func (a *Agent) healthy() bool {
	cfg := a.Config()
	for _, svc := range a.services() {
		if svc.name == ServiceMonitor || !svc.enabled(cfg) {
			continue
		}
		if !a.tracker.Up(svc.name) {
			return false
		}
	}
	return true
}

// Status is the /healthz document.
func (a *Agent) Status() any {
	doc := map[string]any{
		"services":       a.tracker.Snapshot(),
		"events_dropped": a.bus.Dropped(),
		"healthy":        a.healthy(),
	}
	if a.sup != nil {
		doc["supervisor"] = a.sup.Snapshot()
	}
	if h := a.host.Load(); h != nil {
		doc["host"] = h
	}
	return doc
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		DebugFlagPath: cfg.Logging.DebugFlagPath,
	}
}

func storageConfig(sc *config.StorageConfig) storage.Config {
	busy, _ := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, 0)
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}
}

func debugConfig(cfg *config.Config) debugsrv.Config {
	read, _ := config.ParseDuration("pprof.read_timeout", cfg.Pprof.ReadTimeout, 0)
	idle, _ := config.ParseDuration("pprof.idle_timeout", cfg.Pprof.IdleTimeout, 0)
	return debugsrv.Config{
		Enabled:     cfg.Pprof.Enabled,
		Addr:        cfg.Pprof.Addr,
		ReadTimeout: read,
		IdleTimeout: idle,
	}
}
