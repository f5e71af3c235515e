package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sinkmem "github.com/custodia-labs/mediasync-cli/internal/adapters/driven/sink/memory"
	"github.com/custodia-labs/mediasync-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/mediasync-cli/internal/connectors/filesystem"
	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driving"
)

// --- Mock implementations for orchestrator testing ---

// mockSource implements driven.ContentSource.
type mockSource struct {
	sourceType   string
	capabilities driven.SourceCapabilities
	items        []domain.CandidateItem
	content      map[string][]byte
	downloadErrs map[string]error
	listErr      error
	validateErr  error
	versionToken string

	mu        stdsync.Mutex
	listCalls []time.Time
	closed    bool

	// listGate, when set, blocks List until the channel is closed.
	listGate chan struct{}
}

func (m *mockSource) Type() string                            { return m.sourceType }
func (m *mockSource) Capabilities() driven.SourceCapabilities { return m.capabilities }
func (m *mockSource) Validate(_ context.Context) error        { return m.validateErr }
func (m *mockSource) VersionToken() string                    { return m.versionToken }

func (m *mockSource) List(ctx context.Context, modifiedAfter time.Time) ([]domain.CandidateItem, error) {
	if m.listGate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.listGate:
		}
	}
	m.mu.Lock()
	m.listCalls = append(m.listCalls, modifiedAfter)
	m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.items, nil
}

func (m *mockSource) Download(_ context.Context, itemID string) ([]byte, error) {
	if err, ok := m.downloadErrs[itemID]; ok {
		return nil, err
	}
	if content, ok := m.content[itemID]; ok {
		return content, nil
	}
	return []byte("content-" + itemID), nil
}

func (m *mockSource) Watch(_ context.Context) (<-chan domain.CandidateItem, error) {
	return nil, errors.New("watch not implemented")
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// mockFactory implements driven.SourceFactory.
type mockFactory struct {
	sources   map[string]*mockSource
	createErr error
}

func newMockFactory() *mockFactory {
	return &mockFactory{sources: make(map[string]*mockSource)}
}

func (f *mockFactory) Create(_ context.Context, scope domain.SyncScope) (driven.ContentSource, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if source, ok := f.sources[scope.ID]; ok {
		return source, nil
	}
	return nil, errors.New("no source configured for scope")
}

func (f *mockFactory) Register(_ string, _ driven.SourceBuilder) {}

func (f *mockFactory) SupportedTypes() []string { return []string{"mock"} }

// mockEnricher implements driven.Enricher with in-flight instrumentation.
type mockEnricher struct {
	judgments map[string]*domain.EnrichmentJudgment
	errs      map[string]error
	delay     time.Duration

	// onAnalyze, when set, is invoked at the start of every call.
	onAnalyze func(name string)

	mu          stdsync.Mutex
	inFlight    int
	maxInFlight int
	calls       int
}

func (e *mockEnricher) Analyze(_ context.Context, _ []byte, ectx driven.EnrichmentContext) (*domain.EnrichmentJudgment, error) {
	e.mu.Lock()
	e.calls++
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.onAnalyze != nil {
		e.onAnalyze(ectx.Name)
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	if err, ok := e.errs[ectx.Name]; ok {
		return nil, err
	}
	if judgment, ok := e.judgments[ectx.Name]; ok {
		return judgment, nil
	}
	return &domain.EnrichmentJudgment{
		Tags:        []string{"mock"},
		Category:    "test",
		QualityFlag: domain.QualityGood,
		Confidence:  0.9,
	}, nil
}

func (e *mockEnricher) Close() error { return nil }

// --- Test fixtures ---

type fixture struct {
	scopes   *memory.ScopeStore
	state    *memory.StateStore
	factory  *mockFactory
	enricher *mockEnricher
	sink     *sinkmem.Sink
	orch     *Orchestrator
}

func newFixture(t *testing.T, batchSize, maxConcurrent int) *fixture {
	t.Helper()
	scopes := memory.NewScopeStore()
	state := memory.NewStateStore(scopes)
	factory := newMockFactory()
	enricher := &mockEnricher{}
	sink := sinkmem.NewSink()

	orch := NewOrchestrator(
		scopes, state, factory, enricher,
		NewDefaultPolicy(0), sink,
		batchSize, maxConcurrent,
	)
	return &fixture{
		scopes:   scopes,
		state:    state,
		factory:  factory,
		enricher: enricher,
		sink:     sink,
		orch:     orch,
	}
}

func (f *fixture) addScope(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.scopes.Save(context.Background(), domain.SyncScope{
		ID:         id,
		Name:       "Test " + id,
		SourceType: "mock",
	}))
}

func candidates(n int, modifiedAt time.Time) []domain.CandidateItem {
	items := make([]domain.CandidateItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, domain.CandidateItem{
			ID:         string(rune('a'+i)) + "-item",
			Name:       "item-" + string(rune('a'+i)),
			ModifiedAt: modifiedAt,
			SizeBytes:  100,
			MIMEType:   "image/png",
		})
	}
	return items
}

// --- Tests ---

func TestNewOrchestrator_Defaults(t *testing.T) {
	f := newFixture(t, 0, 0)
	assert.Equal(t, DefaultBatchSize, f.orch.batchSize)
	assert.Equal(t, DefaultMaxConcurrent, f.orch.maxConcurrent)
	assert.NotNil(t, f.orch.activeRuns)
}

func TestOrchestrator_Run_ScopeNotFound(t *testing.T) {
	f := newFixture(t, 5, 2)

	_, err := f.orch.Run(context.Background(), "missing", driving.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestOrchestrator_Run_ValidationFailure(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	f.factory.sources["scope-1"] = &mockSource{
		sourceType:  "mock",
		validateErr: errors.New("bad credentials"),
	}

	_, err := f.orch.Run(context.Background(), "scope-1", driving.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceValidation)

	// Scope untouched: validation fails before discovery.
	scope, getErr := f.scopes.Get(context.Background(), "scope-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.ScopeIdle, scope.Status)
	assert.True(t, scope.LastSync.IsZero())
}

func TestOrchestrator_Run_DiscoveryFailure(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	f.factory.sources["scope-1"] = &mockSource{
		sourceType: "mock",
		listErr:    errors.New("503 from provider"),
	}

	_, err := f.orch.Run(context.Background(), "scope-1", driving.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientProvider)

	// Scope marked failed, cursor untouched.
	scope, getErr := f.scopes.Get(context.Background(), "scope-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.ScopeFailed, scope.Status)
	assert.True(t, scope.LastSync.IsZero())
	assert.Equal(t, 0, f.sink.Count())
}

// TestOrchestrator_Run_ConcreteScenario is the full pipeline walk: 10
// candidates, 3 unchanged since the last run, 2 of the remaining 7
// rejected as sensitive.
func TestOrchestrator_Run_ConcreteScenario(t *testing.T) {
	f := newFixture(t, 4, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	oldTime := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	items := candidates(10, oldTime)

	// Three items already indexed at the same modified time.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.state.MarkProcessed(ctx, items[i].ID, "scope-1",
			DocumentID("scope-1", items[i].ID), items[i].ModifiedAt,
			&domain.EnrichmentJudgment{Category: "prior"}))
	}

	// Two of the remaining seven flagged sensitive.
	f.enricher = &mockEnricher{
		judgments: map[string]*domain.EnrichmentJudgment{
			items[4].Name: {SensitiveContent: true, QualityFlag: domain.QualityGood, Confidence: 0.95},
			items[7].Name: {SensitiveContent: true, QualityFlag: domain.QualityGood, Confidence: 0.95},
		},
	}
	f.orch.enricher = f.enricher

	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: items}

	before := time.Now().UTC()
	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Discovered)
	assert.Equal(t, 5, summary.Indexed)
	assert.Equal(t, 5, summary.Skipped)
	assert.Equal(t, 3, summary.Unchanged)
	assert.Equal(t, 2, summary.PolicyRejected)
	assert.Equal(t, 0, summary.Failed)

	// Exactly 5 new documents in the sink (the 3 prior records were
	// seeded without sink writes).
	assert.Equal(t, 5, f.sink.Count())

	// Every candidate holds exactly one terminal record.
	for _, item := range items {
		record, err := f.state.GetRecord(ctx, item.ID)
		require.NoError(t, err, "record for %s", item.ID)
		assert.Contains(t, []domain.ItemStatus{domain.ItemIndexed, domain.ItemSkipped}, record.Status)
		if record.Status == domain.ItemIndexed {
			assert.NotEmpty(t, record.SinkDocID)
		} else {
			assert.Empty(t, record.SinkDocID)
			assert.NotEmpty(t, record.SkipReason)
		}
	}

	// Cursor advanced to the discovery-time snapshot.
	scope, err := f.scopes.Get(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeIdle, scope.Status)
	assert.False(t, scope.LastSync.IsZero())
	assert.False(t, scope.LastSync.Before(before.Truncate(time.Second)))
	assert.Equal(t, int64(5), scope.TotalIndexed)
	assert.Equal(t, int64(5), scope.TotalSkipped)
}

// TestOrchestrator_Run_NoOpConvergence verifies that a second run against
// an unchanged source indexes nothing and skips everything.
func TestOrchestrator_Run_NoOpConvergence(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	items := candidates(6, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: items}

	first, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, first.Indexed)

	callsAfterFirst := f.enricher.calls
	sinkAfterFirst := f.sink.Count()

	second, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 6, second.Discovered)
	assert.Equal(t, 0, second.Indexed)
	assert.Equal(t, 6, second.Skipped)
	assert.Equal(t, 6, second.Unchanged)

	// Zero new sink documents and zero new enrichment calls.
	assert.Equal(t, sinkAfterFirst, f.sink.Count())
	assert.Equal(t, callsAfterFirst, f.enricher.calls)
}

// TestOrchestrator_Run_ModifiedItemReprocessed verifies the sole
// incremental-sync correctness condition: a record is overwritten when the
// item's modified time advances.
func TestOrchestrator_Run_ModifiedItemReprocessed(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	modified := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	items := candidates(3, modified)
	source := &mockSource{sourceType: "mock", items: items}
	f.factory.sources["scope-1"] = source

	_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	// Touch one item.
	source.items[1].ModifiedAt = modified.Add(time.Hour)

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 2, summary.Unchanged)

	record, err := f.state.GetRecord(ctx, source.items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, modified.Add(time.Hour), record.SourceModifiedAt)

	// Still one document per item: overwrite, not append.
	assert.Equal(t, 3, f.sink.Count())
}

// TestOrchestrator_Run_FaultIsolation verifies a failing item doesn't take
// its siblings down: of 5 items, item 3's enrichment raises.
func TestOrchestrator_Run_FaultIsolation(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	items := candidates(5, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	f.enricher = &mockEnricher{
		errs: map[string]error{
			items[2].Name: errors.New("model timeout"),
		},
	}
	f.orch.enricher = f.enricher
	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: items}

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Indexed)
	assert.Equal(t, 1, summary.Failed)

	for i, item := range items {
		record, err := f.state.GetRecord(ctx, item.ID)
		require.NoError(t, err, "record for %s", item.ID)
		if i == 2 {
			assert.Equal(t, domain.ItemFailed, record.Status)
			assert.Equal(t, domain.SkipEnrichmentFailed, record.SkipReason)
		} else {
			assert.Equal(t, domain.ItemIndexed, record.Status)
		}
	}

	// Partial run: failures recorded, cursor still advances.
	scope, err := f.scopes.Get(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScopePartial, scope.Status)
	assert.False(t, scope.LastSync.IsZero())
}

// TestOrchestrator_Run_FailedItemRetriedNextRun verifies failed items are
// retried on the next run while indexed ones are not.
func TestOrchestrator_Run_FailedItemRetriedNextRun(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	items := candidates(3, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	enricher := &mockEnricher{
		errs: map[string]error{items[0].Name: errors.New("model timeout")},
	}
	f.orch.enricher = enricher
	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: items}

	_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	// The provider recovers.
	enricher.mu.Lock()
	enricher.errs = nil
	enricher.mu.Unlock()

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Indexed, "only the failed item is retried")
	assert.Equal(t, 2, summary.Unchanged)

	record, err := f.state.GetRecord(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemIndexed, record.Status)
}

func TestOrchestrator_Run_DownloadFailure(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	items := candidates(2, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	f.factory.sources["scope-1"] = &mockSource{
		sourceType: "mock",
		items:      items,
		downloadErrs: map[string]error{
			items[0].ID: errors.New("connection reset"),
		},
	}

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Failed)

	record, err := f.state.GetRecord(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemFailed, record.Status)
	assert.Equal(t, domain.SkipDownloadFailed, record.SkipReason)
}

func TestOrchestrator_Run_PermanentItemSkippedForGood(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	items := candidates(1, time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC))
	f.factory.sources["scope-1"] = &mockSource{
		sourceType: "mock",
		items:      items,
		downloadErrs: map[string]error{
			items[0].ID: domain.ErrPermanentItem,
		},
	}

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	record, err := f.state.GetRecord(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemSkipped, record.Status)
	assert.Equal(t, domain.SkipUnsupportedFormat, record.SkipReason)

	// Skips stick: the second run drops the item as unchanged.
	second, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Unchanged)
}

// TestOrchestrator_Run_BoundedConcurrency verifies instrumented enrichment
// calls never exceed maxConcurrent in-flight invocations.
func TestOrchestrator_Run_BoundedConcurrency(t *testing.T) {
	const maxConcurrent = 3
	f := newFixture(t, 20, maxConcurrent)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	f.enricher = &mockEnricher{delay: 10 * time.Millisecond}
	f.orch.enricher = f.enricher

	items := candidates(12, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: items}

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 12, summary.Indexed)
	assert.LessOrEqual(t, f.enricher.maxInFlight, maxConcurrent)
	assert.Positive(t, f.enricher.maxInFlight)
}

func TestOrchestrator_Run_SyncInProgressRefused(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	gate := make(chan struct{})
	f.factory.sources["scope-1"] = &mockSource{
		sourceType: "mock",
		items:      candidates(1, time.Now().UTC()),
		listGate:   gate,
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
		done <- err
	}()

	// Wait for the first run to take the lease.
	require.Eventually(t, func() bool {
		status, err := f.orch.Status(ctx, "scope-1")
		return err == nil && status.Running
	}, time.Second, 5*time.Millisecond)

	_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)

	// Lease released after completion.
	status, err := f.orch.Status(ctx, "scope-1")
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestOrchestrator_Run_ForceFullSync(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	items := candidates(2, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	source := &mockSource{sourceType: "mock", items: items}
	f.factory.sources["scope-1"] = source

	_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	_, err = f.orch.Run(ctx, "scope-1", driving.RunOptions{ForceFullSync: true})
	require.NoError(t, err)

	require.Len(t, source.listCalls, 2)
	assert.True(t, source.listCalls[0].IsZero())
	// Forced runs ignore the cursor entirely.
	assert.True(t, source.listCalls[1].IsZero())
}

func TestOrchestrator_Run_IncrementalCursorPassedToSource(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	source := &mockSource{sourceType: "mock", items: candidates(1, time.Now().UTC())}
	f.factory.sources["scope-1"] = source

	_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)
	_, err = f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	require.Len(t, source.listCalls, 2)
	assert.True(t, source.listCalls[0].IsZero())
	assert.False(t, source.listCalls[1].IsZero(), "second run lists since the cursor")
}

func TestOrchestrator_Run_VersionTokenAdvanced(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	ctx := context.Background()

	f.factory.sources["scope-1"] = &mockSource{
		sourceType:   "mock",
		items:        candidates(1, time.Now().UTC()),
		capabilities: driven.SourceCapabilities{SupportsVersionToken: true},
		versionToken: "v-42",
	}

	_, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	scope, err := f.scopes.Get(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, "v-42", scope.VersionToken)
}

func TestOrchestrator_Run_CancellationBetweenBatches(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.addScope(t, "scope-1")

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel mid-run: the current batch finishes, later batches don't start.
	f.enricher = &mockEnricher{onAnalyze: func(string) { cancel() }}
	f.orch.enricher = f.enricher

	items := candidates(5, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: items}

	summary, err := f.orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Indexed)

	// Cursor untouched, so the next run re-discovers the window.
	scope, getErr := f.scopes.Get(context.Background(), "scope-1")
	require.NoError(t, getErr)
	assert.True(t, scope.LastSync.IsZero())
	assert.Equal(t, domain.ScopePartial, scope.Status)
}

func TestOrchestrator_RunAll(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.addScope(t, "scope-1")
	f.addScope(t, "scope-2")
	ctx := context.Background()

	f.factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: candidates(2, time.Now().UTC())}
	f.factory.sources["scope-2"] = &mockSource{sourceType: "mock", listErr: errors.New("down")}

	summaries, err := f.orch.RunAll(ctx, driving.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientProvider)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Indexed)
}

func TestOrchestrator_Status_Idle(t *testing.T) {
	f := newFixture(t, 5, 2)

	status, err := f.orch.Status(context.Background(), "scope-1")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Equal(t, "scope-1", status.ScopeID)
}

func TestDocumentID_Deterministic(t *testing.T) {
	a := DocumentID("scope-1", "item-1")
	b := DocumentID("scope-1", "item-1")
	c := DocumentID("scope-2", "item-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEmpty(t, a)
}

func TestSinkFields_FlatScalars(t *testing.T) {
	scope := &domain.SyncScope{ID: "scope-1", SourceType: "drive"}
	item := domain.CandidateItem{
		ID:         "item-1",
		Name:       "diagram.png",
		ModifiedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SizeBytes:  2048,
		MIMEType:   "image/png",
	}
	judgment := &domain.EnrichmentJudgment{
		Tags:        []string{"diagram", "architecture"},
		Category:    "documentation",
		QualityFlag: domain.QualityGood,
		Confidence:  0.87,
		Description: "An architecture diagram",
	}

	fields := SinkFields(scope, item, judgment)

	assert.Equal(t, "item-1", fields["item_id"])
	assert.Equal(t, "drive", fields["source_type"])
	assert.Equal(t, "diagram, architecture", fields["tags"])
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["modified_at"])
	assert.Equal(t, 0.87, fields["confidence"])
}

// flakyStateStore wraps a state store with injectable write failures.
type flakyStateStore struct {
	driven.StateStore
	markSkippedErr error
	advanceErr     error
}

func (s *flakyStateStore) MarkSkipped(ctx context.Context, itemID, scopeID string, reason domain.SkipReason, modifiedAt time.Time) error {
	if s.markSkippedErr != nil {
		return s.markSkippedErr
	}
	return s.StateStore.MarkSkipped(ctx, itemID, scopeID, reason, modifiedAt)
}

func (s *flakyStateStore) AdvanceScopeCursor(ctx context.Context, scopeID string, snapshot time.Time, versionToken string, summary domain.SyncRunSummary) error {
	if s.advanceErr != nil {
		return s.advanceErr
	}
	return s.StateStore.AdvanceScopeCursor(ctx, scopeID, snapshot, versionToken, summary)
}

// Two scopes whose sources contain the same file name must both index:
// item IDs carry the scope identity, so the scopes never share a
// processing record.
func TestOrchestrator_Run_TwoScopesSharingFileName(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	mtime := time.Now().Add(-time.Hour)
	for _, root := range []string{rootA, rootB} {
		path := filepath.Join(root, "photo.png")
		require.NoError(t, os.WriteFile(path, []byte("png"), 0644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	scopes := memory.NewScopeStore()
	state := memory.NewStateStore(scopes)
	factory := NewSourceFactory()
	factory.Register("filesystem", filesystem.NewFromScope)
	sink := sinkmem.NewSink()
	orch := NewOrchestrator(scopes, state, factory, &mockEnricher{}, NewDefaultPolicy(0), sink, 5, 2)

	ctx := context.Background()
	require.NoError(t, scopes.Save(ctx, domain.SyncScope{
		ID: "scope-a", SourceType: "filesystem", Config: map[string]string{"path": rootA},
	}))
	require.NoError(t, scopes.Save(ctx, domain.SyncScope{
		ID: "scope-b", SourceType: "filesystem", Config: map[string]string{"path": rootB},
	}))

	summaryA, err := orch.Run(ctx, "scope-a", driving.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summaryA.Indexed)

	summaryB, err := orch.Run(ctx, "scope-b", driving.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summaryB.Discovered)
	assert.Equal(t, 0, summaryB.Unchanged, "another scope's record must not shadow this item")
	assert.Equal(t, 1, summaryB.Indexed)

	assert.Equal(t, 2, sink.Count())
}

// Status is polled concurrently with a live run, which is exactly what
// the CLI progress loop does; meaningful under the race detector.
func TestOrchestrator_StatusDuringRun(t *testing.T) {
	f := newFixture(t, 2, 2)
	f.addScope(t, "scope-1")
	f.factory.sources["scope-1"] = &mockSource{
		sourceType: "mock",
		items:      candidates(10, time.Now()),
	}
	f.enricher.delay = 2 * time.Millisecond

	type result struct {
		summary *domain.SyncRunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := f.orch.Run(context.Background(), "scope-1", driving.RunOptions{})
		done <- result{summary, err}
	}()

	for {
		select {
		case res := <-done:
			require.NoError(t, res.err)
			assert.Equal(t, 10, res.summary.Indexed)
			status, err := f.orch.Status(context.Background(), "scope-1")
			require.NoError(t, err)
			assert.False(t, status.Running)
			return
		default:
			status, err := f.orch.Status(context.Background(), "scope-1")
			require.NoError(t, err)
			assert.LessOrEqual(t, status.ItemsProcessed, 10)
		}
	}
}

// A policy rejection whose skip record cannot be written is a failure;
// it must not be double-counted as a rejection too.
func TestOrchestrator_RejectionNotCountedWhenRecordFails(t *testing.T) {
	scopes := memory.NewScopeStore()
	state := &flakyStateStore{
		StateStore:     memory.NewStateStore(scopes),
		markSkippedErr: errors.New("disk full"),
	}
	factory := newMockFactory()
	enricher := &mockEnricher{judgments: map[string]*domain.EnrichmentJudgment{
		"item-a": {SensitiveContent: true, QualityFlag: domain.QualityGood, Confidence: 0.9},
	}}
	orch := NewOrchestrator(scopes, state, factory, enricher, NewDefaultPolicy(0), sinkmem.NewSink(), 5, 1)

	ctx := context.Background()
	require.NoError(t, scopes.Save(ctx, domain.SyncScope{ID: "scope-1", SourceType: "mock"}))
	factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: candidates(1, time.Now())}

	summary, err := orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.PolicyRejected,
		"a rejection that was not durably recorded counts only as failed")
}

// A cursor advance failure must leave the scope in a terminal status,
// never stuck in running.
func TestOrchestrator_CursorAdvanceFailureMarksScopeFailed(t *testing.T) {
	scopes := memory.NewScopeStore()
	state := &flakyStateStore{
		StateStore: memory.NewStateStore(scopes),
		advanceErr: errors.New("disk full"),
	}
	factory := newMockFactory()
	orch := NewOrchestrator(scopes, state, factory, &mockEnricher{}, NewDefaultPolicy(0), sinkmem.NewSink(), 5, 1)

	ctx := context.Background()
	require.NoError(t, scopes.Save(ctx, domain.SyncScope{ID: "scope-1", SourceType: "mock"}))
	factory.sources["scope-1"] = &mockSource{sourceType: "mock", items: candidates(2, time.Now())}

	_, err := orch.Run(ctx, "scope-1", driving.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advance scope cursor")

	scope, getErr := scopes.Get(ctx, "scope-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.ScopeFailed, scope.Status)
	assert.True(t, scope.LastSync.IsZero(), "cursor did not advance")
}
