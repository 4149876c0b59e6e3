package eventbus

// Event types published by the agent.
const (
	// JobOutcome carries one scheduler job outcome (scheduler.Outcome).
	JobOutcome = "scheduler.job_outcome"
	// CycleDone carries a scheduler.CycleSummary after every pass.
	CycleDone = "scheduler.cycle_done"
	// ConfigApplied is published after the config service wrote a local config.
	ConfigApplied = "config_service.applied"
	// ConfigReloaded carries the []string of changed agent config sections.
	ConfigReloaded = "agent.config_reloaded"
	// StaleDeleted carries the []string of paths the garbage collector removed.
	StaleDeleted = "garbage_collector.deleted"
)
