package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"
)

const (
	ModeProd = "prod"
	ModeDev  = "dev"

	DefaultRootPath = "/opt/iris"

	DefaultSchedulerInterval     = 20 * time.Second
	DefaultConfigServiceInterval = 25 * time.Second
	DefaultGCInterval            = time.Minute
	DefaultMonitorInterval       = 2 * time.Minute
	DefaultConfigWait            = 2 * time.Minute
	DefaultKillWait              = 2 * time.Second
	DefaultTempGrace             = 5 * time.Minute
	DefaultRetryMaxElapsed       = 30 * time.Second

	DefaultShell            = "/bin/bash"
	DefaultOutputLimitBytes = 64 << 10

	DefaultProfileTag     = "ihr:iris:profile"
	DefaultEnabledTag     = "ihr:iris:enabled"
	DefaultNameTag        = "Name"
	DefaultEnvironmentTag = "ihr:application:environment"
)

// Normalize fills defaults in place and validates every field that is
// parsed later (durations, enums, addresses). It is idempotent.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.RootPath = strings.TrimSpace(cfg.RootPath)
	if cfg.RootPath == "" {
		cfg.RootPath = DefaultRootPath
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeProd
	}
	if cfg.Mode != ModeProd && cfg.Mode != ModeDev {
		return fmt.Errorf("mode: must be %q or %q, got %q", ModeProd, ModeDev, cfg.Mode)
	}
	dev := cfg.Mode == ModeDev

	if strings.TrimSpace(cfg.Logging.DebugFlagPath) == "" {
		cfg.Logging.DebugFlagPath = filepath.Join(cfg.RootPath, "iris.debug")
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		cfg.Logging.File.Path = filepath.Join(cfg.RootPath, "logs", "iris.log")
	}

	s := &cfg.Scheduler
	if strings.TrimSpace(s.Shell) == "" {
		s.Shell = DefaultShell
	}
	if s.MaxConcurrent < 0 {
		return errors.New("scheduler.max_concurrent: must be >= 0")
	}
	if s.LaunchRatePerSec < 0 {
		return errors.New("scheduler.launch_rate_per_sec: must be >= 0")
	}
	if s.OutputLimitBytes < 0 {
		return errors.New("scheduler.output_limit_bytes: must be >= 0")
	}
	if s.OutputLimitBytes == 0 {
		s.OutputLimitBytes = DefaultOutputLimitBytes
	}

	cs := &cfg.ConfigService
	cs.Source = strings.ToLower(strings.TrimSpace(cs.Source))
	if cs.Source == "" {
		cs.Source = "s3"
		if dev {
			cs.Source = "dir"
		}
	}
	switch cs.Source {
	case "s3":
		if Enabled(cs.Enabled, true) && strings.TrimSpace(cs.S3.Bucket) == "" {
			return errors.New("config_service.s3.bucket: required when source is s3")
		}
	case "dir":
		if Enabled(cs.Enabled, true) && strings.TrimSpace(cs.Dir) == "" {
			return errors.New("config_service.dir: required when source is dir")
		}
	default:
		return fmt.Errorf("config_service.source: unknown source %q", cs.Source)
	}
	cs.Tags.Provider = strings.ToLower(strings.TrimSpace(cs.Tags.Provider))
	if cs.Tags.Provider == "" {
		cs.Tags.Provider = "imds"
		if dev {
			cs.Tags.Provider = "static"
		}
	}
	if cs.Tags.Provider != "imds" && cs.Tags.Provider != "static" {
		return fmt.Errorf("config_service.tags.provider: unknown provider %q", cs.Tags.Provider)
	}
	if strings.TrimSpace(cs.Tags.ProfileTag) == "" {
		cs.Tags.ProfileTag = DefaultProfileTag
	}
	if strings.TrimSpace(cs.Tags.EnabledTag) == "" {
		cs.Tags.EnabledTag = DefaultEnabledTag
	}
	if strings.TrimSpace(cs.Tags.NameTag) == "" {
		cs.Tags.NameTag = DefaultNameTag
	}
	if strings.TrimSpace(cs.Tags.EnvironmentTag) == "" {
		cs.Tags.EnvironmentTag = DefaultEnvironmentTag
	}

	if cfg.Storage != nil {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		switch cfg.Storage.Driver {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if cfg.Storage.Driver == "file" || cfg.Storage.Driver == "sqlite" {
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				cfg.Storage.Path = filepath.Join(cfg.RootPath, "history")
			}
		}
	}

	if cfg.Pprof.Enabled {
		if strings.TrimSpace(cfg.Pprof.Addr) == "" {
			cfg.Pprof.Addr = "127.0.0.1:6060"
		}
		if _, _, err := net.SplitHostPort(cfg.Pprof.Addr); err != nil {
			return fmt.Errorf("pprof.addr: %w", err)
		}
	}

	durations := []struct{ path, raw string }{
		{"scheduler.interval", s.Interval},
		{"scheduler.config_wait", s.ConfigWait},
		{"scheduler.kill_wait", s.KillWait},
		{"config_service.interval", cs.Interval},
		{"config_service.retry_max_elapsed", cs.RetryMaxElapsed},
		{"garbage_collector.interval", cfg.GarbageCollector.Interval},
		{"garbage_collector.temp_grace", cfg.GarbageCollector.TempGrace},
		{"monitor.interval", cfg.Monitor.Interval},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.path, d.raw, 0); err != nil {
			return err
		}
	}
	return nil
}

// Paths derives every on-disk location from root_path.
func (c *Config) Paths() Paths {
	root := DefaultRootPath
	if c != nil && strings.TrimSpace(c.RootPath) != "" {
		root = c.RootPath
	}
	dl := filepath.Join(root, "downloads")
	return Paths{
		Root:          root,
		Downloads:     dl,
		GlobalConfig:  filepath.Join(dl, "global_config.json"),
		MetricsConfig: filepath.Join(dl, "metrics.json"),
		ProfilesDir:   filepath.Join(dl, "profiles"),
		LocalConfig:   filepath.Join(root, "local_config.json"),
		PromDir:       filepath.Join(root, "prom_files"),
	}
}

// mustDuration is used by the accessors below; Normalize has already
// rejected malformed values, so a parse error here falls back to def.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDuration("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (s SchedulerConfig) IntervalDuration() time.Duration {
	return mustDuration(s.Interval, DefaultSchedulerInterval)
}

func (s SchedulerConfig) ConfigWaitDuration() time.Duration {
	return mustDuration(s.ConfigWait, DefaultConfigWait)
}

func (s SchedulerConfig) KillWaitDuration() time.Duration {
	return mustDuration(s.KillWait, DefaultKillWait)
}

func (c ConfigServiceConfig) IntervalDuration() time.Duration {
	return mustDuration(c.Interval, DefaultConfigServiceInterval)
}

func (c ConfigServiceConfig) RetryMaxElapsedDuration() time.Duration {
	return mustDuration(c.RetryMaxElapsed, DefaultRetryMaxElapsed)
}

func (g GarbageCollectorConfig) IntervalDuration() time.Duration {
	return mustDuration(g.Interval, DefaultGCInterval)
}

func (g GarbageCollectorConfig) TempGraceDuration() time.Duration {
	return mustDuration(g.TempGrace, DefaultTempGrace)
}

func (m MonitorConfig) IntervalDuration() time.Duration {
	return mustDuration(m.Interval, DefaultMonitorInterval)
}
