package config

import (
	"reflect"
	"sort"
	"strings"

	logx "iris/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes credentials paths).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.RootPath != newCfg.RootPath || oldCfg.Mode != newCfg.Mode {
		changed = append(changed, "root")
		attrs = append(attrs,
			logx.String("root_path", newCfg.RootPath),
			logx.String("mode", newCfg.Mode),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", Enabled(newCfg.Scheduler.Enabled, true)),
			logx.Duration("scheduler.interval", newCfg.Scheduler.IntervalDuration()),
			logx.String("scheduler.shell", newCfg.Scheduler.Shell),
			logx.Int("scheduler.max_concurrent", newCfg.Scheduler.MaxConcurrent),
			logx.Float64("scheduler.launch_rate_per_sec", newCfg.Scheduler.LaunchRatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.ConfigService, newCfg.ConfigService) {
		cs := newCfg.ConfigService
		changed = append(changed, "config_service")
		attrs = append(attrs,
			logx.Bool("config_service.enabled", Enabled(cs.Enabled, true)),
			logx.Duration("config_service.interval", cs.IntervalDuration()),
			logx.String("config_service.source", cs.Source),
			logx.String("config_service.s3.bucket", strings.TrimSpace(cs.S3.Bucket)),
			logx.Bool("config_service.s3.credentials_file_set", strings.TrimSpace(cs.S3.CredentialsFile) != ""),
			logx.String("config_service.tags.provider", cs.Tags.Provider),
		)
	}

	if !reflect.DeepEqual(oldCfg.GarbageCollector, newCfg.GarbageCollector) {
		changed = append(changed, "garbage_collector")
		attrs = append(attrs,
			logx.Bool("garbage_collector.enabled", Enabled(newCfg.GarbageCollector.Enabled, true)),
			logx.Duration("garbage_collector.interval", newCfg.GarbageCollector.IntervalDuration()),
			logx.Duration("garbage_collector.temp_grace", newCfg.GarbageCollector.TempGraceDuration()),
		)
	}

	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs, logx.Duration("monitor.interval", newCfg.Monitor.IntervalDuration()))
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}
