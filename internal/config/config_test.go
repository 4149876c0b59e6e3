package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "iris.yaml")
	writeFile(t, path, `
root_path: /srv/iris
mode: dev
config_service:
  dir: /srv/iris-configs
scheduler:
  interval: 10s
  max_concurrent: 4
`)

	cfg, err := NewConfigManager(path).Parse()
	require.NoError(t, err)

	assert.Equal(t, "dir", cfg.ConfigService.Source)
	assert.Equal(t, "static", cfg.ConfigService.Tags.Provider)
	assert.Equal(t, DefaultProfileTag, cfg.ConfigService.Tags.ProfileTag)
	assert.Equal(t, DefaultShell, cfg.Scheduler.Shell)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.IntervalDuration())
	assert.Equal(t, DefaultConfigWait, cfg.Scheduler.ConfigWaitDuration())
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, "/srv/iris/iris.debug", cfg.Logging.DebugFlagPath)

	p := cfg.Paths()
	assert.Equal(t, "/srv/iris/downloads/global_config.json", p.GlobalConfig)
	assert.Equal(t, "/srv/iris/downloads/metrics.json", p.MetricsConfig)
	assert.Equal(t, "/srv/iris/downloads/profiles", p.ProfilesDir)
	assert.Equal(t, "/srv/iris/local_config.json", p.LocalConfig)
	assert.Equal(t, "/srv/iris/prom_files", p.PromDir)
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"unknown field", `{"root_path":"/x","bogus":1}`},
		{"trailing data", `{"root_path":"/x","mode":"dev","config_service":{"dir":"/c"}}{}`},
		{"bad mode", `{"mode":"staging"}`},
		{"bad duration", `{"mode":"dev","config_service":{"dir":"/c"},"scheduler":{"interval":"soon"}}`},
		{"negative duration", `{"mode":"dev","config_service":{"dir":"/c"},"garbage_collector":{"temp_grace":"-1s"}}`},
		{"missing bucket", `{"mode":"prod"}`},
		{"bad storage driver", `{"mode":"dev","config_service":{"dir":"/c"},"storage":{"driver":"redis"}}`},
		{"negative concurrency", `{"mode":"dev","config_service":{"dir":"/c"},"scheduler":{"max_concurrent":-1}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "iris.json")
			writeFile(t, path, tc.content)
			_, err := NewConfigManager(path).Parse()
			require.Error(t, err)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	cfg := &Config{Mode: "dev", ConfigService: ConfigServiceConfig{Dir: "/c"}, Storage: &StorageConfig{Driver: "file"}}
	require.NoError(t, Normalize(cfg))
	first := *cfg
	firstStorage := *cfg.Storage
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, firstStorage, *cfg.Storage)
	first.Storage, cfg.Storage = nil, nil
	assert.Equal(t, first, *cfg)
	assert.Equal(t, filepath.Join(DefaultRootPath, "history"), firstStorage.Path)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Mode: "dev", ConfigService: ConfigServiceConfig{Dir: "/c"}}
	require.NoError(t, Normalize(oldCfg))
	newCfg := *oldCfg
	newCfg.Scheduler.Interval = "5s"
	newCfg.Storage = &StorageConfig{Driver: "file", Path: "/tmp/h"}

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	assert.Equal(t, []string{"scheduler", "storage"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(oldCfg, oldCfg)
	assert.Empty(t, changed)
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iris.json")
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"}}`)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"},"scheduler":{"interval":"7s"}}`)

	select {
	case cfg := <-ch:
		assert.Equal(t, 7*time.Second, cfg.Scheduler.IntervalDuration())
		assert.Equal(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config publish")
	}

	cancel()
	<-done
}

func TestWatchRejectsViaValidator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iris.json")
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"}}`)

	m := NewConfigManager(path)
	orig, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.MaxConcurrent > 10 {
			return assert.AnError
		}
		return nil
	})

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"},"scheduler":{"max_concurrent":50}}`)

	select {
	case <-ch:
		t.Fatal("rejected config must not be published")
	case <-time.After(time.Second):
	}
	assert.Same(t, orig, m.Get())
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	d := &debouncer{wait: 50 * time.Millisecond, fn: func() { n.Add(1) }}
	for i := 0; i < 5; i++ {
		d.trigger()
	}
	assert.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())

	d.trigger()
	d.stop()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestWatchPicksUpEditMadeBeforeWatchStarted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iris.json")
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"}}`)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Changed after Load but before any watch exists: no fsnotify event.
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"},"scheduler":{"interval":"7s"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	select {
	case cfg := <-ch:
		assert.Equal(t, 7*time.Second, cfg.Scheduler.IntervalDuration())
	case <-time.After(5 * time.Second):
		t.Fatal("edit made before the watch started was never published")
	}

	cancel()
	<-done
}

func TestWatchStartupReloadOfUnchangedFileIsSilent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iris.json")
	writeFile(t, path, `{"mode":"dev","config_service":{"dir":"/c"}}`)

	m := NewConfigManager(path)
	orig, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	select {
	case <-ch:
		t.Fatal("unchanged config must not be published")
	case <-time.After(time.Second):
	}
	assert.Same(t, orig, m.Get())
}
