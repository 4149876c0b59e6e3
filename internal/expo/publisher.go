package expo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"iris/internal/metric"
	"iris/pkg/atomicfile"
	logx "iris/pkg/logx"
)

// FileExt is the extension of every published file.
const FileExt = ".prom"

// Publisher writes <dir>/<name>.prom atomically. It is safe for concurrent
// use as long as two callers never publish the same name at the same time;
// even then each write is whole (last rename wins).
type Publisher struct {
	dir string
	log logx.Logger
}

// NewPublisher writes into dir, which EnsureDir creates on demand.
func NewPublisher(dir string, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{dir: dir, log: log}
}

// Dir is the directory every file is published in.
func (p *Publisher) Dir() string { return p.dir }

// Path returns the published file path for name.
func (p *Publisher) Path(name string) string {
	return filepath.Join(p.dir, name+FileExt)
}

// Publish atomically replaces <dir>/<name>.prom with content.
func (p *Publisher) Publish(name string, content []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("publish: invalid file name %q", name)
	}
	path := p.Path(name)
	if err := atomicfile.WriteFile(path, content, 0o644); err != nil {
		p.log.Warn("publish failed", logx.String("path", path), logx.Err(err))
		return "", err
	}
	p.log.Debug("published", logx.String("path", path), logx.Int("bytes", len(content)))
	return path, nil
}

// PublishJob renders and publishes one job result.
func (p *Publisher) PublishJob(def metric.Definition, value float64, returnCode int) (string, error) {
	return p.Publish(def.Name, JobText(def, value, returnCode))
}

// EnsureDir creates the publish directory.
func (p *Publisher) EnsureDir() error {
	return os.MkdirAll(p.dir, 0o755)
}
