package domain

import "time"

// ScopeStatus is the terminal state of a scope's most recent run.
type ScopeStatus string

const (
	// ScopeIdle means no run is active and the last run fully succeeded.
	ScopeIdle ScopeStatus = "idle"

	// ScopeRunning means a sync run is currently in progress.
	ScopeRunning ScopeStatus = "running"

	// ScopePartial means the last run completed with per-item failures.
	ScopePartial ScopeStatus = "partial"

	// ScopeFailed means the last run did not complete durably.
	ScopeFailed ScopeStatus = "failed"
)

// SyncScope identifies what is being synced: one source container
// (a folder, an account, a design file) for one configured pipeline.
// Only the orchestrator mutates a scope, and only at run boundaries.
type SyncScope struct {
	// ID is the unique identifier for the scope.
	ID string

	// Name is the human-readable name for this scope.
	Name string

	// SourceType identifies the content source type (e.g. "drive", "gmail").
	SourceType string

	// Config contains source-specific configuration (folder ID, query, token).
	Config map[string]string

	// Status is the scope's terminal state from the last run.
	Status ScopeStatus

	// LastSync is the discovery-time snapshot of the last completed run.
	// Zero when the scope has never been synced.
	LastSync time.Time

	// VersionToken is an opaque cursor for version-based sources.
	// Empty for timestamp-based sources.
	VersionToken string

	// TotalIndexed, TotalSkipped and TotalFailed are lifetime counters,
	// advanced atomically by the state store at run boundaries.
	TotalIndexed int64
	TotalSkipped int64
	TotalFailed  int64

	// CreatedAt is when the scope was created.
	CreatedAt time.Time

	// UpdatedAt is when the scope was last updated.
	UpdatedAt time.Time
}

// SyncRunSummary aggregates counters for one orchestrator invocation.
// Created fresh per run and returned to the caller; not persisted as-is.
type SyncRunSummary struct {
	// ScopeID identifies the scope that was synced.
	ScopeID string

	// Discovered is the number of candidate items returned by discovery.
	Discovered int

	// Indexed is the number of items upserted into the sink.
	Indexed int

	// Skipped is the number of items not indexed by design:
	// unchanged since the last run, or rejected by policy, or permanently
	// unprocessable.
	Skipped int

	// Unchanged is the subset of Skipped dropped by incremental filtering.
	Unchanged int

	// PolicyRejected is the subset of Skipped rejected by the policy filter.
	// Surfaced separately from errors so statistics stay honest.
	PolicyRejected int

	// Failed is the number of items that hit a transient error.
	Failed int

	// Duration is the wall-clock duration of the run.
	Duration time.Duration
}

// Status returns the terminal scope status implied by the summary.
func (s *SyncRunSummary) Status() ScopeStatus {
	if s.Failed > 0 {
		return ScopePartial
	}
	return ScopeIdle
}
