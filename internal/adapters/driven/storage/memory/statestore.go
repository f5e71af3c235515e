// Package memory provides in-memory store implementations.
// Used by tests and for ephemeral runs without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure StateStore implements the interface.
var _ driven.StateStore = (*StateStore)(nil)

// StateStore is an in-memory implementation of driven.StateStore.
// Scope cursor data lives in the associated ScopeStore so the two views
// stay consistent, mirroring the SQLite adapter's single database.
type StateStore struct {
	mu      sync.RWMutex
	records map[string]domain.ProcessingRecord
	scopes  *ScopeStore
}

// NewStateStore creates an in-memory state store writing cursor updates
// into the given scope store.
func NewStateStore(scopes *ScopeStore) *StateStore {
	return &StateStore{
		records: make(map[string]domain.ProcessingRecord),
		scopes:  scopes,
	}
}

// LastSyncTime returns the scope's cursor, or nil if never synced.
func (s *StateStore) LastSyncTime(ctx context.Context, scopeID string) (*time.Time, error) {
	scope, err := s.scopes.Get(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if scope.LastSync.IsZero() {
		return nil, nil
	}
	t := scope.LastSync
	return &t, nil
}

// NeedsReprocessing reports whether the item should be processed.
func (s *StateStore) NeedsReprocessing(_ context.Context, itemID string, currentModifiedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[itemID]
	if !ok {
		return true, nil
	}
	return record.SourceModifiedAt.Before(currentModifiedAt), nil
}

// MarkProcessed records an indexed item.
func (s *StateStore) MarkProcessed(_ context.Context, itemID, scopeID, sinkDocID string, modifiedAt time.Time, judgment *domain.EnrichmentJudgment) error {
	record := domain.ProcessingRecord{
		ItemID:           itemID,
		ScopeID:          scopeID,
		Status:           domain.ItemIndexed,
		SinkDocID:        sinkDocID,
		SourceModifiedAt: modifiedAt,
		ProcessedAt:      time.Now().UTC(),
	}
	if judgment != nil {
		record.Tags = judgment.Tags
		record.Category = judgment.Category
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[itemID] = record
	return nil
}

// MarkSkipped records a deliberately skipped item.
func (s *StateStore) MarkSkipped(_ context.Context, itemID, scopeID string, reason domain.SkipReason, modifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[itemID] = domain.ProcessingRecord{
		ItemID:           itemID,
		ScopeID:          scopeID,
		Status:           domain.ItemSkipped,
		SkipReason:       reason,
		SourceModifiedAt: modifiedAt,
		ProcessedAt:      time.Now().UTC(),
	}
	return nil
}

// MarkFailed records a transiently failed item. The zero SourceModifiedAt
// keeps the item eligible for retry on the next run.
func (s *StateStore) MarkFailed(_ context.Context, itemID, scopeID string, reason domain.SkipReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[itemID] = domain.ProcessingRecord{
		ItemID:      itemID,
		ScopeID:     scopeID,
		Status:      domain.ItemFailed,
		SkipReason:  reason,
		ProcessedAt: time.Now().UTC(),
	}
	return nil
}

// GetRecord returns the record for an item, or ErrNotFound.
func (s *StateStore) GetRecord(_ context.Context, itemID string) (*domain.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}

// ListRecords returns all records for a scope.
func (s *StateStore) ListRecords(_ context.Context, scopeID string) ([]domain.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []domain.ProcessingRecord
	for _, record := range s.records {
		if record.ScopeID == scopeID {
			records = append(records, record)
		}
	}
	return records, nil
}

// AdvanceScopeCursor moves the scope cursor and folds run counters in.
func (s *StateStore) AdvanceScopeCursor(ctx context.Context, scopeID string, snapshot time.Time, versionToken string, summary domain.SyncRunSummary) error {
	return s.scopes.advanceCursor(ctx, scopeID, snapshot, versionToken, summary)
}
