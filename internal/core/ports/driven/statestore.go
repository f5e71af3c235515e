package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// StateStore persists per-item processing records and per-scope cursors.
//
// All item operations are upserts keyed by item ID and must be safe under
// concurrent callers operating on different items within the same scope.
// The store must also tolerate concurrent writers across different scopes
// sharing the same backing database.
type StateStore interface {
	// LastSyncTime returns the scope's cursor, or nil if never synced.
	LastSyncTime(ctx context.Context, scopeID string) (*time.Time, error)

	// NeedsReprocessing reports whether the item should be processed:
	// true if no record exists or the stored SourceModifiedAt is older
	// than currentModifiedAt. This is the sole incremental-sync
	// correctness condition.
	NeedsReprocessing(ctx context.Context, itemID string, currentModifiedAt time.Time) (bool, error)

	// MarkProcessed records an indexed item.
	MarkProcessed(ctx context.Context, itemID, scopeID, sinkDocID string, modifiedAt time.Time, judgment *domain.EnrichmentJudgment) error

	// MarkSkipped records a deliberately skipped item.
	MarkSkipped(ctx context.Context, itemID, scopeID string, reason domain.SkipReason, modifiedAt time.Time) error

	// MarkFailed records a transiently failed item. Failed records keep a
	// zero SourceModifiedAt so the item is retried on the next run.
	MarkFailed(ctx context.Context, itemID, scopeID string, reason domain.SkipReason) error

	// GetRecord returns the record for an item, or ErrNotFound.
	GetRecord(ctx context.Context, itemID string) (*domain.ProcessingRecord, error)

	// ListRecords returns all records for a scope.
	ListRecords(ctx context.Context, scopeID string) ([]domain.ProcessingRecord, error)

	// AdvanceScopeCursor moves the scope cursor to the discovery-time
	// snapshot and folds the run summary into the scope's lifetime
	// counters. Counters are advanced with atomic increments, never
	// read-modify-write, so concurrent runs of different scopes sharing a
	// backing store cannot lose updates. Called exactly once per run,
	// after processing completes (success or partial).
	AdvanceScopeCursor(ctx context.Context, scopeID string, snapshot time.Time, versionToken string, summary domain.SyncRunSummary) error
}

// ScopeStore persists scope definitions.
type ScopeStore interface {
	// Save stores or updates a scope.
	Save(ctx context.Context, scope domain.SyncScope) error

	// Get retrieves a scope by ID.
	Get(ctx context.Context, id string) (*domain.SyncScope, error)

	// List returns all configured scopes.
	List(ctx context.Context) ([]domain.SyncScope, error)

	// Delete removes a scope and its processing records.
	Delete(ctx context.Context, id string) error

	// SetStatus updates only the scope's status.
	SetStatus(ctx context.Context, id string, status domain.ScopeStatus) error
}
