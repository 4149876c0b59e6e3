package expo

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	logx "iris/pkg/logx"
)

// Internal health signal names. Each is published as <name>.prom next to
// the job files and must never be garbage collected.
const (
	SchedulerError      = "iris_scheduler_error"
	SchedulerFailedJobs = "iris_scheduler_failed_jobs"
	ConfigServiceError  = "iris_config_service_error"
	MissingTags         = "iris_missing_ec2_tags"
	GCDeletedFiles      = "iris_garbage_collector_deleted_stale_files"
	GCError             = "iris_garbage_collector_error"
)

// UpName is the liveness gauge of a long-running service.
func UpName(service string) string { return Prefix + "_" + service + "_up" }

// InternalNames is the GC whitelist: every fixed signal plus one up gauge
// per service.
func InternalNames(services ...string) []string {
	out := []string{
		SchedulerError,
		SchedulerFailedJobs,
		ConfigServiceError,
		MissingTags,
		GCDeletedFiles,
		GCError,
	}
	for _, s := range services {
		out = append(out, UpName(s))
	}
	return out
}

// Health publishes single-gauge files for internal signals.
type Health struct {
	pub *Publisher
	log logx.Logger
}

// NewHealth publishes internal signals through pub.
func NewHealth(pub *Publisher, log logx.Logger) *Health {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Health{pub: pub, log: log}
}

// SetGauge publishes <name>.prom containing one gauge sample. Labels are
// optional constant labels.
func (h *Health) SetGauge(name, help string, value float64, labels prometheus.Labels) error {
	name = PrefixedName(name)

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	g.Set(value)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(g); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather %s: %w", name, err)
	}

	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
	}
	if _, err := h.pub.Publish(name, buf.Bytes()); err != nil {
		h.log.Error("health signal not written", logx.String("metric", name), logx.Err(err))
		return err
	}
	return nil
}

// SetFlag publishes a 0/1 gauge.
func (h *Health) SetFlag(name, help string, on bool) error {
	v := 0.0
	if on {
		v = 1
	}
	return h.SetGauge(name, help, v, nil)
}
