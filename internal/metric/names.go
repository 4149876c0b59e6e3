package metric

import (
	"regexp"
	"sort"
	"strings"
)

// Prefix is the reserved metric name prefix of this agent.
const Prefix = "iris"

var prefixRE = regexp.MustCompile(`(?i)^iris`)

// PrefixedName applies the reserved prefix rule: names that already start
// with "iris" (any case) are kept, others get "iris_" prepended.
func PrefixedName(name string) string {
	if prefixRE.MatchString(name) {
		return name
	}
	return Prefix + "_" + name
}

// ReturnCodeName is the companion gauge of a job.
func ReturnCodeName(job string) string {
	return Prefix + "_" + job + "_returncode"
}

// seriesNames are the metric names a job file exposes.
func seriesNames(job string) []string {
	return []string{PrefixedName(job), ReturnCodeName(job)}
}

// checkNames rejects jobs whose exposed metric names clash with another
// job of the set or with a reserved internal signal.
func checkNames(defs map[string]Definition, reserved map[string]struct{}) *ValidationError {
	jobs := make([]string, 0, len(defs))
	for n := range defs {
		jobs = append(jobs, n)
	}
	sort.Strings(jobs)

	owner := make(map[string]string, 2*len(jobs))
	for _, job := range jobs {
		if _, ok := reserved[job]; ok {
			return invalid("", job, "name is reserved for an internal signal")
		}
		for _, s := range seriesNames(job) {
			if _, ok := reserved[s]; ok {
				return invalid("", job, "exposes %s, which is reserved for an internal signal", s)
			}
			if other, ok := owner[s]; ok {
				return invalid("", job, "exposes %s, which %s exposes too", s, other)
			}
			owner[s] = job
		}
	}
	return nil
}

func nameSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[strings.TrimSpace(n)] = struct{}{}
	}
	return m
}
