package config

// Config is the agent configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "20s", "2m").
// Paths are derived from root_path by Normalize; see Paths.
type Config struct {
	RootPath string `json:"root_path"`

	// Mode is "prod" (S3 + instance metadata) or "dev" (local directory + static tags).
	Mode string `json:"mode,omitempty"`

	Logging          LoggingConfig          `json:"logging"`
	Scheduler        SchedulerConfig        `json:"scheduler"`
	ConfigService    ConfigServiceConfig    `json:"config_service"`
	GarbageCollector GarbageCollectorConfig `json:"garbage_collector"`
	Monitor          MonitorConfig          `json:"monitor"`

	// Storage is optional. Nil means the run history is disabled.
	Storage *StorageConfig `json:"storage,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
	Systemd SystemdConfig  `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// DebugFlagPath: while a file exists here the level is forced to DEBUG.
	// Default: <root_path>/iris.debug
	DebugFlagPath string `json:"debug_flag_path,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the metric execution cycle.
//
// Defaults (when fields are omitted/zero):
//   - interval: "20s"
//   - shell: "/bin/bash"
//   - max_concurrent: 0 (unbounded)
//   - launch_rate_per_sec: 0 (unlimited)
//   - output_limit_bytes: 65536
//   - config_wait: "2m"
//   - kill_wait: "2s"
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"`
	Shell    string `json:"shell,omitempty"`

	MaxConcurrent    int     `json:"max_concurrent,omitempty"`
	LaunchRatePerSec float64 `json:"launch_rate_per_sec,omitempty"`
	OutputLimitBytes int     `json:"output_limit_bytes,omitempty"`

	// ConfigWait bounds how long a cycle waits for the config service to
	// produce global_config.json and local_config.json.
	ConfigWait string `json:"config_wait,omitempty"`

	// KillWait bounds the wait for output pipes after the process group was killed.
	KillWait string `json:"kill_wait,omitempty"`
}

// ConfigServiceConfig controls the config download/lint/match pass.
//
// Defaults:
//   - interval: "25s"
//   - source: "s3" in prod, "dir" in dev
//   - retry_max_elapsed: "30s"
//   - tags.provider: "imds" in prod, "static" in dev
//   - tags.profile_tag: "ihr:iris:profile"
//   - tags.enabled_tag: "ihr:iris:enabled"
type ConfigServiceConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"`
	Source   string `json:"source,omitempty"`

	S3  S3Config `json:"s3,omitempty"`
	Dir string   `json:"dir,omitempty"`

	Tags TagsConfig `json:"tags,omitempty"`

	RetryMaxElapsed string `json:"retry_max_elapsed,omitempty"`
}

type S3Config struct {
	Bucket          string `json:"bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	Region          string `json:"region,omitempty"`
	Profile         string `json:"profile,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
}

type TagsConfig struct {
	Provider string            `json:"provider,omitempty"`
	Static   map[string]string `json:"static,omitempty"`

	ProfileTag     string `json:"profile_tag,omitempty"`
	EnabledTag     string `json:"enabled_tag,omitempty"`
	NameTag        string `json:"name_tag,omitempty"`
	EnvironmentTag string `json:"environment_tag,omitempty"`
}

// GarbageCollectorConfig controls stale .prom cleanup.
//
// Defaults: interval "1m", temp_grace "5m".
type GarbageCollectorConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"`

	// TempGrace protects in-flight temp files of concurrent writers.
	TempGrace string `json:"temp_grace,omitempty"`
}

// MonitorConfig controls the iris_<service>_up writer. Default interval "2m".
type MonitorConfig struct {
	Interval string `json:"interval,omitempty"`
}

// StorageConfig controls the optional run history.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/opt/iris/history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional debug HTTP server.
//
// Prefer binding to localhost (e.g. "127.0.0.1:6060").
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// SystemdConfig toggles sd_notify integration. Watchdog pings follow WATCHDOG_USEC.
type SystemdConfig struct {
	Notify bool `json:"notify,omitempty"`
}

// Paths are the filesystem locations derived from root_path.
type Paths struct {
	Root          string
	Downloads     string
	GlobalConfig  string
	MetricsConfig string
	ProfilesDir   string
	LocalConfig   string
	PromDir       string
}

func Enabled(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
