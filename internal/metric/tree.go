package metric

import (
	"path/filepath"
	"sort"
)

// File names inside a config tree.
const (
	GlobalConfigFile = "global_config.json"
	MetricsFile      = "metrics.json"
	ProfilesDir      = "profiles"
)

// Tree is a linted config tree.
type Tree struct {
	Global   GlobalConfig
	Metrics  map[string]Definition
	Profiles map[string]Profile
}

// LintTree lints global_config.json, metrics.json and profiles/ under dir.
func (l *Linter) LintTree(dir string) (Tree, error) {
	var t Tree
	var err error
	if t.Global, err = l.LintGlobalConfig(filepath.Join(dir, GlobalConfigFile)); err != nil {
		return Tree{}, err
	}
	if t.Metrics, err = l.LintMetrics(t.Global, filepath.Join(dir, MetricsFile)); err != nil {
		return Tree{}, err
	}
	if t.Profiles, err = l.LintProfiles(filepath.Join(dir, ProfilesDir)); err != nil {
		return Tree{}, err
	}
	return t, nil
}

// Undefined maps each profile to the metrics it names that metrics.json
// does not define. Profiles without such metrics are omitted.
func (t Tree) Undefined() map[string][]string {
	out := map[string][]string{}
	for name, p := range t.Profiles {
		for _, m := range p.Metrics {
			if _, ok := t.Metrics[m]; !ok {
				out[name] = append(out[name], m)
			}
		}
		sort.Strings(out[name])
	}
	return out
}
