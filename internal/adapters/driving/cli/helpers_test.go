package cli

import (
	"context"
	"time"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driving"
)

// --- Mock implementations for command testing ---

type mockRunner struct {
	summary    *domain.SyncRunSummary
	summaries  []domain.SyncRunSummary
	runErr     error
	lastScope  string
	lastOpts   driving.RunOptions
	runAllOpts *driving.RunOptions
}

func (m *mockRunner) Run(_ context.Context, scopeID string, opts driving.RunOptions) (*domain.SyncRunSummary, error) {
	m.lastScope = scopeID
	m.lastOpts = opts
	if m.runErr != nil {
		return nil, m.runErr
	}
	return m.summary, nil
}

func (m *mockRunner) RunAll(_ context.Context, opts driving.RunOptions) ([]domain.SyncRunSummary, error) {
	m.runAllOpts = &opts
	if m.runErr != nil {
		return nil, m.runErr
	}
	return m.summaries, nil
}

func (m *mockRunner) Status(_ context.Context, scopeID string) (*driving.RunStatus, error) {
	return &driving.RunStatus{ScopeID: scopeID}, nil
}

type mockScopeStore struct {
	scopes    map[string]domain.SyncScope
	saved     []domain.SyncScope
	deleteErr error
}

func newMockScopeStore() *mockScopeStore {
	return &mockScopeStore{scopes: make(map[string]domain.SyncScope)}
}

func (m *mockScopeStore) Save(_ context.Context, scope domain.SyncScope) error {
	m.saved = append(m.saved, scope)
	m.scopes[scope.ID] = scope
	return nil
}

func (m *mockScopeStore) Get(_ context.Context, id string) (*domain.SyncScope, error) {
	scope, ok := m.scopes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &scope, nil
}

func (m *mockScopeStore) List(_ context.Context) ([]domain.SyncScope, error) {
	scopes := make([]domain.SyncScope, 0, len(m.scopes))
	for _, s := range m.scopes {
		scopes = append(scopes, s)
	}
	return scopes, nil
}

func (m *mockScopeStore) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.scopes[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.scopes, id)
	return nil
}

func (m *mockScopeStore) SetStatus(_ context.Context, id string, status domain.ScopeStatus) error {
	scope, ok := m.scopes[id]
	if !ok {
		return domain.ErrNotFound
	}
	scope.Status = status
	m.scopes[id] = scope
	return nil
}

type stubSource struct {
	validateErr error
	closed      bool
}

func (s *stubSource) Type() string                            { return "stub" }
func (s *stubSource) Capabilities() driven.SourceCapabilities { return driven.SourceCapabilities{} }
func (s *stubSource) Validate(_ context.Context) error        { return s.validateErr }
func (s *stubSource) VersionToken() string                    { return "" }
func (s *stubSource) Close() error                            { s.closed = true; return nil }

func (s *stubSource) List(_ context.Context, _ time.Time) ([]domain.CandidateItem, error) {
	return nil, nil
}

func (s *stubSource) Download(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}

func (s *stubSource) Watch(_ context.Context) (<-chan domain.CandidateItem, error) {
	return nil, domain.ErrUnsupportedType
}

type mockSourceFactory struct {
	source    *stubSource
	createErr error
	types     []string
}

func (m *mockSourceFactory) Create(_ context.Context, _ domain.SyncScope) (driven.ContentSource, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.source, nil
}

func (m *mockSourceFactory) Register(_ string, _ driven.SourceBuilder) {}

func (m *mockSourceFactory) SupportedTypes() []string { return m.types }

// setupTestServices wires mock services into the package vars and returns
// a cleanup that restores the previous ones.
func setupTestServices() (*mockRunner, *mockScopeStore, *mockSourceFactory, func()) {
	oldRunner := syncRunner
	oldScopeStore := scopeStore
	oldFactory := sourceFactory

	runner := &mockRunner{
		summary: &domain.SyncRunSummary{ScopeID: "scope-1", Discovered: 3, Indexed: 3},
	}
	store := newMockScopeStore()
	factory := &mockSourceFactory{source: &stubSource{}, types: []string{"filesystem"}}

	syncRunner = runner
	scopeStore = store
	sourceFactory = factory

	return runner, store, factory, func() {
		syncRunner = oldRunner
		scopeStore = oldScopeStore
		sourceFactory = oldFactory
	}
}
