package driving

import (
	"context"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// RunOptions controls a single sync run.
type RunOptions struct {
	// ForceFullSync ignores the scope cursor and re-discovers everything.
	// Unchanged items are still dropped by incremental filtering unless
	// their records are gone.
	ForceFullSync bool
}

// SyncRunner triggers incremental sync runs for scopes.
type SyncRunner interface {
	// Run synchronises one scope and returns the run summary.
	// Per-item errors are absorbed into the summary; only configuration
	// and discovery errors are returned.
	Run(ctx context.Context, scopeID string, opts RunOptions) (*domain.SyncRunSummary, error)

	// RunAll synchronises all configured scopes sequentially.
	RunAll(ctx context.Context, opts RunOptions) ([]domain.SyncRunSummary, error)

	// Status returns the live status of a scope's run.
	Status(ctx context.Context, scopeID string) (*RunStatus, error)
}

// RunStatus represents the current state of a sync run.
type RunStatus struct {
	// ScopeID identifies the scope.
	ScopeID string

	// Running indicates if a run is currently in progress.
	Running bool

	// Phase is the current state-machine phase (discovering, filtering,
	// batch_processing, finalizing). Empty when not running.
	Phase string

	// ItemsProcessed is the count of items that reached a terminal state.
	ItemsProcessed int

	// ErrorCount is the number of item failures so far.
	ErrorCount int
}
