// Package metric holds the metric definition model and the linter that turns
// downloaded config files (global_config.json, metrics.json, profiles/*.json)
// into validated Definitions, plus the per-host local config built from them.
package metric
