package metric

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "iris/pkg/logx"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var testGlobal = GlobalConfig{ExecutionTimeout: 10, MinExecutionFrequency: 5, MaxExecutionFrequency: 3600}

func TestLintGlobalConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		want    GlobalConfig
		wantErr bool
	}{
		{
			name:    "ok",
			content: `{"execution_timeout": 10, "min_execution_frequency": 5, "max_execution_frequency": 3600}`,
			want:    testGlobal,
		},
		{name: "min not above one", content: `{"execution_timeout": 10, "min_execution_frequency": 1, "max_execution_frequency": 60}`, wantErr: true},
		{name: "min equals max", content: `{"execution_timeout": 10, "min_execution_frequency": 60, "max_execution_frequency": 60}`, wantErr: true},
		{name: "zero timeout", content: `{"execution_timeout": 0, "min_execution_frequency": 5, "max_execution_frequency": 60}`, wantErr: true},
		{name: "missing field", content: `{"execution_timeout": 10, "min_execution_frequency": 5}`, wantErr: true},
		{name: "duplicate key", content: `{"execution_timeout": 10, "execution_timeout": 11, "min_execution_frequency": 5, "max_execution_frequency": 60}`, wantErr: true},
		{name: "unknown key", content: `{"execution_timeout": 10, "min_execution_frequency": 5, "max_execution_frequency": 60, "x": 1}`, wantErr: true},
		{name: "not json", content: `execution_timeout = 10`, wantErr: true},
	}

	l := NewLinter(logx.Nop())
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := write(t, t.TempDir(), "global_config.json", tc.content)
			got, err := l.LintGlobalConfig(path)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLintGlobalConfigMissingFile(t *testing.T) {
	t.Parallel()
	_, err := NewLinter(logx.Nop()).LintGlobalConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTimeoutDerivation(t *testing.T) {
	t.Parallel()

	g := GlobalConfig{ExecutionTimeout: 10, MinExecutionFrequency: 2, MaxExecutionFrequency: 100}
	assert.Equal(t, 4, g.Timeout(5))
	assert.Equal(t, 9, g.Timeout(10))
	assert.Equal(t, 10, g.Timeout(11))
	assert.Equal(t, 10, g.Timeout(60))
	for f := g.MinExecutionFrequency; f <= g.MaxExecutionFrequency; f++ {
		assert.Less(t, g.Timeout(f), f)
	}
}

func TestLintMetrics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := write(t, dir, "metrics.json", `{
  "node_cpu_busy": {
    "metric_type": "gauge",
    "execution_frequency": 60,
    "export_method": "textfile",
    "bash_command": "top -bn1 | awk '/Cpu/ {print $2}'",
    "help": "cpu busy percent"
  },
  "fast_probe": {
    "metric_type": "counter",
    "execution_frequency": 5,
    "export_method": "pushgateway",
    "bash_command": "echo 1",
    "help": "probe"
  }
}`)

	defs, err := NewLinter(logx.Nop()).LintMetrics(testGlobal, path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	cpu := defs["node_cpu_busy"]
	assert.Equal(t, "node_cpu_busy", cpu.Name)
	assert.Equal(t, KindGauge, cpu.Kind)
	assert.Equal(t, ExportTextfile, cpu.ExportMethod)
	assert.Equal(t, 10, cpu.ExecutionTimeout)

	probe := defs["fast_probe"]
	assert.Equal(t, 4, probe.ExecutionTimeout)
	assert.Equal(t, ExportPushgateway, probe.ExportMethod)
	assert.Equal(t, []string{"fast_probe", "node_cpu_busy"}, Names(defs))
}

func TestLintMetricsRejects(t *testing.T) {
	t.Parallel()

	base := `"execution_frequency": 60, "export_method": "textfile", "bash_command": "echo 1", "help": "h"`
	cases := map[string]string{
		"bad kind":          `{"m": {"metric_type": "meter", ` + base + `}}`,
		"bad export":        `{"m": {"metric_type": "gauge", "execution_frequency": 60, "export_method": "statsd", "bash_command": "echo 1", "help": "h"}}`,
		"freq below min":    `{"m": {"metric_type": "gauge", "execution_frequency": 4, "export_method": "textfile", "bash_command": "echo 1", "help": "h"}}`,
		"freq above max":    `{"m": {"metric_type": "gauge", "execution_frequency": 3601, "export_method": "textfile", "bash_command": "echo 1", "help": "h"}}`,
		"missing help":      `{"m": {"metric_type": "gauge", "execution_frequency": 60, "export_method": "textfile", "bash_command": "echo 1"}}`,
		"empty command":     `{"m": {"metric_type": "gauge", "execution_frequency": 60, "export_method": "textfile", "bash_command": "  ", "help": "h"}}`,
		"bad name":          `{"cpu/busy": {"metric_type": "gauge", ` + base + `}}`,
		"duplicate metric":  `{"m": {"metric_type": "gauge", ` + base + `}, "m": {"metric_type": "gauge", ` + base + `}}`,
		"nested duplicate":  `{"m": {"metric_type": "gauge", "help": "x", ` + base + `}}`,
		"name/key mismatch": `{"m": {"name": "n", "metric_type": "gauge", ` + base + `}}`,
		"prefix collision":  `{"foo": {"metric_type": "gauge", ` + base + `}, "iris_foo": {"metric_type": "gauge", ` + base + `}}`,
		"returncode clash":  `{"m": {"metric_type": "gauge", ` + base + `}, "m_returncode": {"metric_type": "gauge", ` + base + `}}`,
		"internal name":     `{"iris_scheduler_error": {"metric_type": "gauge", ` + base + `}}`,
		"internal series":   `{"scheduler_error": {"metric_type": "gauge", ` + base + `}}`,
	}
	l := NewLinter(logx.Nop(), "iris_scheduler_error")
	for name, content := range cases {
		name, content := name, content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := write(t, t.TempDir(), "metrics.json", content)
			_, err := l.LintMetrics(testGlobal, path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLintProfiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "web.json", `{"profile_name": "web", "metrics": ["node_cpu_busy", "nginx_up"]}`)
	write(t, dir, "db.json", `{"profile_name": "db", "metrics": []}`)
	write(t, dir, "README.md", `ignored`)

	profiles, err := NewLinter(logx.Nop()).LintProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, []string{"node_cpu_busy", "nginx_up"}, profiles["web"].Metrics)
	assert.Empty(t, profiles["db"].Metrics)
}

func TestLintProfilesRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"name mismatch":     `{"profile_name": "api", "metrics": ["a"]}`,
		"duplicate metrics": `{"profile_name": "web", "metrics": ["a", "b", "a"]}`,
		"missing name":      `{"metrics": ["a"]}`,
		"missing metrics":   `{"profile_name": "web"}`,
	}
	l := NewLinter(logx.Nop())
	for name, content := range cases {
		name, content := name, content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			write(t, dir, "web.json", content)
			_, err := l.LintProfiles(dir)
			require.Error(t, err)
		})
	}

	_, err := l.LintProfiles(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestLocalConfigRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	metricsPath := write(t, dir, "metrics.json", `{
  "a_metric": {"metric_type": "gauge", "execution_frequency": 30, "export_method": "textfile", "bash_command": "echo 1", "help": "a"},
  "b_metric": {"metric_type": "counter", "execution_frequency": 7, "export_method": "textfile", "bash_command": "echo 2", "help": "b"},
  "c_metric": {"metric_type": "gauge", "execution_frequency": 30, "export_method": "textfile", "bash_command": "echo 3", "help": "c"}
}`)
	l := NewLinter(logx.Nop())
	metrics, err := l.LintMetrics(testGlobal, metricsPath)
	require.NoError(t, err)

	profiles := map[string]Profile{"web": {Name: "web", Metrics: []string{"a_metric", "b_metric"}}}
	local, err := BuildLocalConfig("web", profiles, metrics)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_metric", "b_metric"}, Names(local))

	localPath := filepath.Join(dir, "local_config.json")
	require.NoError(t, WriteLocalConfig(localPath, local))

	back, err := l.LintLocalConfig(testGlobal, localPath)
	require.NoError(t, err)
	assert.Equal(t, local, back)
	assert.Equal(t, "a_metric", Sorted(back)[0].Name)
}

func TestBuildLocalConfigErrors(t *testing.T) {
	t.Parallel()

	profiles := map[string]Profile{"web": {Name: "web", Metrics: []string{"missing"}}}
	_, err := BuildLocalConfig("db", profiles, nil)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = BuildLocalConfig("web", profiles, map[string]Definition{})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestWriteEmptyLocalConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local_config.json")
	require.NoError(t, WriteLocalConfig(path, nil))

	defs, err := NewLinter(logx.Nop()).LintLocalConfig(testGlobal, path)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLintMetricsNameClashMessage(t *testing.T) {
	t.Parallel()

	base := `"execution_frequency": 60, "export_method": "textfile", "bash_command": "echo 1", "help": "h"`
	path := write(t, t.TempDir(), "metrics.json",
		`{"foo": {"metric_type": "gauge", `+base+`}, "iris_foo": {"metric_type": "gauge", `+base+`}}`)

	_, err := NewLinter(logx.Nop()).LintMetrics(testGlobal, path)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, path, ve.File)
	assert.Equal(t, "iris_foo", ve.Field)
	assert.Contains(t, ve.Reason, "exposes iris_foo, which foo exposes too")

	// The same set is fine when only one of them is present.
	path = write(t, t.TempDir(), "metrics.json", `{"iris_foo": {"metric_type": "gauge", `+base+`}}`)
	defs, err := NewLinter(logx.Nop(), "iris_scheduler_error").LintMetrics(testGlobal, path)
	require.NoError(t, err)
	assert.Contains(t, defs, "iris_foo")
}
