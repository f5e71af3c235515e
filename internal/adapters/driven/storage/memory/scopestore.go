package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure ScopeStore implements the interface.
var _ driven.ScopeStore = (*ScopeStore)(nil)

// ScopeStore is an in-memory implementation of driven.ScopeStore.
type ScopeStore struct {
	mu     sync.RWMutex
	scopes map[string]domain.SyncScope
}

// NewScopeStore creates a new in-memory scope store.
func NewScopeStore() *ScopeStore {
	return &ScopeStore{
		scopes: make(map[string]domain.SyncScope),
	}
}

// Save stores or updates a scope.
func (s *ScopeStore) Save(_ context.Context, scope domain.SyncScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if scope.CreatedAt.IsZero() {
		scope.CreatedAt = now
	}
	scope.UpdatedAt = now
	if scope.Status == "" {
		scope.Status = domain.ScopeIdle
	}
	s.scopes[scope.ID] = scope
	return nil
}

// Get retrieves a scope by ID.
func (s *ScopeStore) Get(_ context.Context, id string) (*domain.SyncScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scope, ok := s.scopes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &scope, nil
}

// List returns all configured scopes.
func (s *ScopeStore) List(_ context.Context) ([]domain.SyncScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scopes := make([]domain.SyncScope, 0, len(s.scopes))
	for _, scope := range s.scopes {
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// Delete removes a scope.
func (s *ScopeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, id)
	return nil
}

// SetStatus updates only the scope's status.
func (s *ScopeStore) SetStatus(_ context.Context, id string, status domain.ScopeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.scopes[id]
	if !ok {
		return domain.ErrNotFound
	}
	scope.Status = status
	scope.UpdatedAt = time.Now().UTC()
	s.scopes[id] = scope
	return nil
}

// advanceCursor applies a completed run to the scope under one lock,
// matching the SQLite adapter's single atomic UPDATE.
func (s *ScopeStore) advanceCursor(_ context.Context, id string, snapshot time.Time, versionToken string, summary domain.SyncRunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.scopes[id]
	if !ok {
		return domain.ErrNotFound
	}
	scope.LastSync = snapshot
	if versionToken != "" {
		scope.VersionToken = versionToken
	}
	scope.Status = summary.Status()
	scope.TotalIndexed += int64(summary.Indexed)
	scope.TotalSkipped += int64(summary.Skipped)
	scope.TotalFailed += int64(summary.Failed)
	scope.UpdatedAt = time.Now().UTC()
	s.scopes[id] = scope
	return nil
}
