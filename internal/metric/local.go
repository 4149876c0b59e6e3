package metric

import (
	"encoding/json"
	"fmt"
	"sort"

	"iris/pkg/atomicfile"
)

// BuildLocalConfig selects the definitions of one profile. Every metric the
// profile names must exist in metrics.
func BuildLocalConfig(profileName string, profiles map[string]Profile, metrics map[string]Definition) (map[string]Definition, error) {
	p, ok := profiles[profileName]
	if !ok {
		return nil, invalid("", "profile", "profile %q is not defined in any profile config", profileName)
	}
	out := make(map[string]Definition, len(p.Metrics))
	for _, name := range p.Metrics {
		def, ok := metrics[name]
		if !ok {
			return nil, invalid("", "metrics", "metric %q in profile %q is not defined in metrics config", name, profileName)
		}
		out[name] = def
	}
	return out, nil
}

// WriteLocalConfig atomically replaces path with defs as indented JSON.
// An empty (or nil) map is written as {} and disables every job on the host.
func WriteLocalConfig(path string, defs map[string]Definition) error {
	if defs == nil {
		defs = map[string]Definition{}
	}
	b, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local config: %w", err)
	}
	b = append(b, '\n')
	return atomicfile.WriteFile(path, b, 0o644)
}

// Sorted returns defs ordered by name.
func Sorted(defs map[string]Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted metric names of defs.
func Names(defs map[string]Definition) []string {
	out := make([]string, 0, len(defs))
	for name := range defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
