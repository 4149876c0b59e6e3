// Package configsvc keeps local_config.json in sync with the central
// config tree: download, lint, pick the host profile, write.
package configsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iris/internal/config"
	"iris/internal/eventbus"
	"iris/internal/expo"
	"iris/internal/hostinfo"
	"iris/internal/metric"
	logx "iris/pkg/logx"
)

// Report describes one successful pass.
type Report struct {
	Files   []string          `json:"files"`
	Host    hostinfo.HostTags `json:"host"`
	Metrics []string          `json:"metrics"`
	Took    time.Duration     `json:"took"`
}

type Service struct {
	source Source
	tags   hostinfo.Provider
	keys   hostinfo.TagKeys
	paths  config.Paths
	linter *metric.Linter
	health *expo.Health
	bus    eventbus.Bus
	log    logx.Logger
}

type Options struct {
	Source Source
	Tags   hostinfo.Provider
	Keys   hostinfo.TagKeys
	Paths  config.Paths
	Health *expo.Health
	Bus    eventbus.Bus

	// Reserved names no job may use; see metric.NewLinter.
	Reserved []string
}

func New(opts Options, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	return &Service{
		source: opts.Source,
		tags:   opts.Tags,
		keys:   opts.Keys,
		paths:  opts.Paths,
		linter: metric.NewLinter(log, opts.Reserved...),
		health: opts.Health,
		bus:    opts.Bus,
		log:    log,
	}
}

// RunOnce performs one pass and publishes iris_config_service_error and
// iris_missing_ec2_tags. A host without the iris tags keeps its previous
// local config.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	rep, err := s.sync(ctx)

	missing := errors.Is(err, hostinfo.ErrMissingTags)
	if s.health != nil {
		_ = s.health.SetFlag(expo.ConfigServiceError, "config service failed on its last run", err != nil && !missing)
		_ = s.health.SetFlag(expo.MissingTags, "the host lacks the iris profile or enabled tag", missing)
	}
	switch {
	case missing:
		s.log.Warn("host is missing iris tags; keeping previous local config", logx.Err(err))
	case err != nil:
		s.log.Error("config service pass failed", logx.Err(err))
	}
	return rep, err
}

func (s *Service) sync(ctx context.Context) (Report, error) {
	started := time.Now()
	var rep Report

	files, err := s.Download(ctx)
	if err != nil {
		return rep, err
	}
	rep.Files = files

	tree, err := s.linter.LintTree(s.paths.Downloads)
	if err != nil {
		return rep, err
	}

	inst, err := s.tags.Instance(ctx)
	if err != nil {
		return rep, fmt.Errorf("read instance tags: %w", err)
	}
	host, err := hostinfo.Resolve(inst, s.keys)
	if err != nil {
		return rep, err
	}
	rep.Host = host

	defs := map[string]metric.Definition{}
	if host.Enabled {
		defs, err = metric.BuildLocalConfig(host.Profile, tree.Profiles, tree.Metrics)
		if err != nil {
			return rep, err
		}
	} else {
		s.log.Info("iris is disabled on this host; writing an empty local config",
			logx.String("instance", host.InstanceID))
	}

	if err := metric.WriteLocalConfig(s.paths.LocalConfig, defs); err != nil {
		return rep, fmt.Errorf("write local config: %w", err)
	}
	rep.Metrics = metric.Names(defs)
	rep.Took = time.Since(started)

	s.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: rep})
	s.log.Info("local config written",
		logx.String("profile", host.Profile),
		logx.Bool("enabled", host.Enabled),
		logx.Int("metrics", len(rep.Metrics)),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}

// Download only refreshes the download dir.
func (s *Service) Download(ctx context.Context) ([]string, error) {
	files, err := s.source.Fetch(ctx, s.paths.Downloads)
	if err != nil {
		return nil, fmt.Errorf("download config: %w", err)
	}
	return files, nil
}

// NewSource builds the source configured for cfg's mode.
func NewSource(ctx context.Context, cfg config.ConfigServiceConfig, log logx.Logger) (Source, error) {
	switch cfg.Source {
	case "dir":
		return DirSource{Dir: cfg.Dir}, nil
	case "s3":
		return NewS3Source(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Profile:         cfg.S3.Profile,
			CredentialsFile: cfg.S3.CredentialsFile,
			RetryMaxElapsed: cfg.RetryMaxElapsedDuration(),
		}, log)
	default:
		return nil, fmt.Errorf("unknown config source %q", cfg.Source)
	}
}

// NewTagProvider builds the tag provider configured for cfg.
func NewTagProvider(cfg config.TagsConfig, log logx.Logger) (hostinfo.Provider, error) {
	switch cfg.Provider {
	case "static":
		return hostinfo.StaticProvider{Tags: cfg.Static}, nil
	case "imds":
		return hostinfo.NewIMDSProvider(log), nil
	default:
		return nil, fmt.Errorf("unknown tags provider %q", cfg.Provider)
	}
}

// TagKeys maps the configured tag names.
func TagKeys(cfg config.TagsConfig) hostinfo.TagKeys {
	return hostinfo.TagKeys{
		Profile:     cfg.ProfileTag,
		Enabled:     cfg.EnabledTag,
		Name:        cfg.NameTag,
		Environment: cfg.EnvironmentTag,
	}
}
