package metric

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/common/model"

	logx "iris/pkg/logx"
)

// Linter sanity checks the config files pulled from the config store and
// turns them into typed values.
type Linter struct {
	log      logx.Logger
	reserved map[string]struct{}
}

// NewLinter returns a linter that also rejects jobs named after, or
// exposing, any of the reserved metric names.
func NewLinter(log logx.Logger, reserved ...string) *Linter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Linter{log: log, reserved: nameSet(reserved)}
}

type globalBody struct {
	ExecutionTimeout      *int `json:"execution_timeout"`
	MinExecutionFrequency *int `json:"min_execution_frequency"`
	MaxExecutionFrequency *int `json:"max_execution_frequency"`
}

// metricBody accepts both metrics.json entries and local_config.json
// entries (which also carry name and the derived execution_timeout).
type metricBody struct {
	Name               *string `json:"name"`
	Kind               *string `json:"metric_type"`
	ExecutionFrequency *int    `json:"execution_frequency"`
	ExportMethod       *string `json:"export_method"`
	Command            *string `json:"bash_command"`
	Help               *string `json:"help"`
	ExecutionTimeout   *int    `json:"execution_timeout"`
}

type profileBody struct {
	Name    *string  `json:"profile_name"`
	Metrics []string `json:"metrics"`
}

func (l *Linter) LintGlobalConfig(path string) (GlobalConfig, error) {
	var body globalBody
	if err := loadJSON(path, &body); err != nil {
		l.log.Error("global config rejected", logx.String("path", path), logx.Err(err))
		return GlobalConfig{}, err
	}
	var missing []string
	if body.ExecutionTimeout == nil {
		missing = append(missing, "execution_timeout")
	}
	if body.MinExecutionFrequency == nil {
		missing = append(missing, "min_execution_frequency")
	}
	if body.MaxExecutionFrequency == nil {
		missing = append(missing, "max_execution_frequency")
	}
	if len(missing) > 0 {
		err := invalid(path, strings.Join(missing, ","), "required field missing")
		l.log.Error("global config rejected", logx.String("path", path), logx.Err(err))
		return GlobalConfig{}, err
	}

	g := GlobalConfig{
		ExecutionTimeout:      *body.ExecutionTimeout,
		MinExecutionFrequency: *body.MinExecutionFrequency,
		MaxExecutionFrequency: *body.MaxExecutionFrequency,
	}
	if err := g.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.File = path
		}
		l.log.Error("global config rejected", logx.String("path", path), logx.Err(err))
		return GlobalConfig{}, err
	}

	l.log.Debug("linted global config",
		logx.String("path", path),
		logx.Int("execution_timeout", g.ExecutionTimeout),
		logx.Int("min_execution_frequency", g.MinExecutionFrequency),
		logx.Int("max_execution_frequency", g.MaxExecutionFrequency),
	)
	return g, nil
}

func (g GlobalConfig) Validate() error {
	if !(1 < g.MinExecutionFrequency && g.MinExecutionFrequency < g.MaxExecutionFrequency) {
		return invalid("", "min_execution_frequency",
			"need 1 < min_execution_frequency (%d) < max_execution_frequency (%d)",
			g.MinExecutionFrequency, g.MaxExecutionFrequency)
	}
	if g.ExecutionTimeout <= 0 {
		return invalid("", "execution_timeout", "must be > 0, got %d", g.ExecutionTimeout)
	}
	return nil
}

// Timeout derives the per-job timeout for a given frequency.
func (g GlobalConfig) Timeout(frequency int) int {
	if frequency <= g.ExecutionTimeout {
		return frequency - 1
	}
	return g.ExecutionTimeout
}

// LintMetrics lints metrics.json: an object keyed by metric name.
func (l *Linter) LintMetrics(g GlobalConfig, path string) (map[string]Definition, error) {
	defs, err := l.lintMetricsFile(g, path)
	if err != nil {
		l.log.Error("metrics config rejected", logx.String("path", path), logx.Err(err))
		return nil, err
	}
	l.log.Debug("linted metrics config", logx.String("path", path), logx.Int("metrics", len(defs)))
	return defs, nil
}

// LintLocalConfig lints the per-host local_config.json written by
// WriteLocalConfig. It has the same shape as metrics.json.
func (l *Linter) LintLocalConfig(g GlobalConfig, path string) (map[string]Definition, error) {
	defs, err := l.lintMetricsFile(g, path)
	if err != nil {
		l.log.Error("local config rejected", logx.String("path", path), logx.Err(err))
		return nil, err
	}
	return defs, nil
}

func (l *Linter) lintMetricsFile(g GlobalConfig, path string) (map[string]Definition, error) {
	var raw map[string]metricBody
	if err := loadJSON(path, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Definition, len(raw))
	for name, body := range raw {
		def, err := newDefinition(g, name, body)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.File = path
			}
			return nil, err
		}
		out[name] = def
	}
	if ve := checkNames(out, l.reserved); ve != nil {
		ve.File = path
		return nil, ve
	}
	return out, nil
}

func newDefinition(g GlobalConfig, name string, body metricBody) (Definition, error) {
	field := func(f string) string { return name + "." + f }

	if !model.MetricNameRE.MatchString(name) {
		return Definition{}, invalid("", name, "not a valid metric name")
	}
	if body.Name != nil && *body.Name != name {
		return Definition{}, invalid("", field("name"), "%q does not match its key", *body.Name)
	}
	if body.Kind == nil || body.ExecutionFrequency == nil || body.ExportMethod == nil ||
		body.Command == nil || body.Help == nil {
		return Definition{}, invalid("", name,
			"metric_type, execution_frequency, export_method, bash_command and help are required")
	}

	kind := Kind(*body.Kind)
	if !kind.Valid() {
		return Definition{}, invalid("", field("metric_type"),
			"%q is not one of counter, gauge, histogram, summary", *body.Kind)
	}
	method := ExportMethod(*body.ExportMethod)
	if !method.Valid() {
		return Definition{}, invalid("", field("export_method"),
			"%q is not one of textfile, pushgateway", *body.ExportMethod)
	}
	freq := *body.ExecutionFrequency
	if freq < g.MinExecutionFrequency || freq > g.MaxExecutionFrequency {
		return Definition{}, invalid("", field("execution_frequency"),
			"%d not between %d and %d", freq, g.MinExecutionFrequency, g.MaxExecutionFrequency)
	}
	if strings.TrimSpace(*body.Command) == "" {
		return Definition{}, invalid("", field("bash_command"), "must not be empty")
	}

	return Definition{
		Name:               name,
		Kind:               kind,
		ExecutionFrequency: freq,
		ExportMethod:       method,
		Command:            *body.Command,
		Help:               *body.Help,
		ExecutionTimeout:   g.Timeout(freq),
	}, nil
}

// LintProfiles lints every *.json under dir. The profile_name inside each
// file must equal the file name without extension.
func (l *Linter) LintProfiles(dir string) (map[string]Profile, error) {
	st, err := os.Stat(dir)
	if err != nil {
		l.log.Error("profiles dir missing", logx.String("dir", dir), logx.Err(err))
		return nil, fmt.Errorf("profiles dir: %w", err)
	}
	if !st.IsDir() {
		return nil, invalid(dir, "", "not a directory")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}

	out := make(map[string]Profile, len(entries))
	var mismatched []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, dup := out[key]; dup {
			return nil, invalid(dir, key, "duplicate profile file name")
		}
		path := filepath.Join(dir, e.Name())

		var body profileBody
		if err := loadJSON(path, &body); err != nil {
			l.log.Error("profile config rejected", logx.String("path", path), logx.Err(err))
			return nil, err
		}
		if body.Name == nil || strings.TrimSpace(*body.Name) == "" {
			return nil, invalid(path, "profile_name", "required field missing")
		}
		if body.Metrics == nil {
			return nil, invalid(path, "metrics", "required field missing")
		}
		if dups := duplicates(body.Metrics); len(dups) > 0 {
			return nil, invalid(path, "metrics", "duplicate metrics in profile %s: %s",
				*body.Name, strings.Join(dups, ", "))
		}
		if *body.Name != key {
			mismatched = append(mismatched, fmt.Sprintf("%s (%s)", *body.Name, e.Name()))
		}
		out[key] = Profile{Name: *body.Name, Metrics: body.Metrics}
	}

	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		err := invalid(dir, "profile_name", "profile names do not match their file names: %s",
			strings.Join(mismatched, ", "))
		l.log.Error("profile configs rejected", logx.String("dir", dir), logx.Err(err))
		return nil, err
	}

	l.log.Debug("linted profile configs", logx.String("dir", dir), logx.Int("profiles", len(out)))
	return out, nil
}

func duplicates(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var dups []string
	for _, it := range items {
		if _, ok := seen[it]; ok {
			dups = append(dups, it)
			continue
		}
		seen[it] = struct{}{}
	}
	return dups
}
