package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driving"
	"github.com/custodia-labs/mediasync-cli/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.SyncRunner = (*Orchestrator)(nil)

// Run phases, in order.
const (
	PhaseDiscovering     = "discovering"
	PhaseFiltering       = "filtering"
	PhaseBatchProcessing = "batch_processing"
	PhaseFinalizing      = "finalizing"
)

// Default processing limits, used when the config supplies none.
const (
	DefaultBatchSize     = 20
	DefaultMaxConcurrent = 4
)

// docIDNamespace seeds deterministic sink document IDs.
var docIDNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mediasync://sink"))

// Orchestrator runs the incremental sync pipeline for a scope:
// discovery, incremental filtering, bounded-concurrency enrichment,
// policy filtering, sink upsert and durable state recording.
type Orchestrator struct {
	scopeStore driven.ScopeStore
	stateStore driven.StateStore
	factory    driven.SourceFactory
	enricher   driven.Enricher
	policy     driven.PolicyFilter
	sink       driven.IndexSink

	batchSize     int
	maxConcurrent int

	// Run tracking. A scope with a live entry refuses a second run,
	// which is what keeps concurrent writers off the same item records.
	mu         sync.RWMutex
	activeRuns map[string]*driving.RunStatus
}

// NewOrchestrator creates a sync orchestrator.
// batchSize and maxConcurrent fall back to defaults when non-positive.
func NewOrchestrator(
	scopeStore driven.ScopeStore,
	stateStore driven.StateStore,
	factory driven.SourceFactory,
	enricher driven.Enricher,
	policy driven.PolicyFilter,
	sink driven.IndexSink,
	batchSize int,
	maxConcurrent int,
) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Orchestrator{
		scopeStore:    scopeStore,
		stateStore:    stateStore,
		factory:       factory,
		enricher:      enricher,
		policy:        policy,
		sink:          sink,
		batchSize:     batchSize,
		maxConcurrent: maxConcurrent,
		activeRuns:    make(map[string]*driving.RunStatus),
	}
}

// Run synchronises one scope.
//
//nolint:gocyclo // Orchestration function with necessary sequential phases
func (o *Orchestrator) Run(ctx context.Context, scopeID string, opts driving.RunOptions) (*domain.SyncRunSummary, error) {
	// 1. Resolve scope configuration
	scope, err := o.scopeStore.Get(ctx, scopeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: scope %q not found", domain.ErrConfiguration, scopeID)
		}
		return nil, fmt.Errorf("get scope: %w", err)
	}

	// 2. Take the run lease. Only one run per scope may be active.
	status, err := o.acquireRun(scopeID)
	if err != nil {
		return nil, err
	}
	defer o.releaseRun(scopeID)

	// 3. Build and validate the content source
	if o.factory == nil {
		return nil, fmt.Errorf("%w: source factory not configured", domain.ErrConfiguration)
	}
	source, err := o.factory.Create(ctx, *scope)
	if err != nil {
		return nil, fmt.Errorf("%w: create source: %v", domain.ErrConfiguration, err)
	}
	defer source.Close()

	if err := source.Validate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceValidation, err)
	}

	// 4. Determine the incremental cursor
	var since time.Time
	if !opts.ForceFullSync {
		last, err := o.stateStore.LastSyncTime(ctx, scopeID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("get last sync time: %w", err)
		}
		if last != nil {
			since = *last
		}
	}

	logger.Section("sync " + scopeID)
	logger.Info("Starting sync for scope %s (since %s)", scopeID, since.Format(time.RFC3339))

	started := time.Now()
	summary := &domain.SyncRunSummary{ScopeID: scopeID}

	// The snapshot timestamp is taken before discovery, so modifications
	// that land while the run is in flight fall after the next cursor and
	// are picked up by the following run.
	snapshot := started.UTC()

	// 5. DISCOVERING
	o.setPhase(status, PhaseDiscovering)
	candidates, err := source.List(ctx, since)
	if err != nil {
		if setErr := o.scopeStore.SetStatus(ctx, scopeID, domain.ScopeFailed); setErr != nil {
			logger.Warn("Failed to mark scope %s failed: %v", scopeID, setErr)
		}
		return nil, fmt.Errorf("%w: list candidates: %w", domain.ErrTransientProvider, err)
	}
	summary.Discovered = len(candidates)
	logger.Info("Discovered %d candidates", len(candidates))

	if err := o.scopeStore.SetStatus(ctx, scopeID, domain.ScopeRunning); err != nil {
		logger.Warn("Failed to mark scope %s running: %v", scopeID, err)
	}

	// 6. FILTERING: drop items whose modified time has not advanced.
	// Unchanged items are counted without touching the state store again.
	o.setPhase(status, PhaseFiltering)
	pending := make([]domain.CandidateItem, 0, len(candidates))
	for _, item := range candidates {
		needs, err := o.stateStore.NeedsReprocessing(ctx, item.ID, item.ModifiedAt)
		if err != nil {
			if setErr := o.scopeStore.SetStatus(ctx, scopeID, domain.ScopeFailed); setErr != nil {
				logger.Warn("Failed to mark scope %s failed: %v", scopeID, setErr)
			}
			return nil, fmt.Errorf("check reprocessing for %s: %w", item.ID, err)
		}
		if !needs {
			summary.Skipped++
			summary.Unchanged++
			continue
		}
		pending = append(pending, item)
	}
	logger.Info("Filtered to %d items needing processing (%d unchanged)", len(pending), summary.Unchanged)

	// 7. BATCH_PROCESSING: sequential batches, bounded concurrency inside
	// each batch. A cancelled context stops between batches; in-flight
	// items finish, which is safe because per-item recording is
	// idempotent.
	o.setPhase(status, PhaseBatchProcessing)
	tracker := &runTracker{mu: &o.mu, summary: summary, status: status}

	cancelled := false
	for start := 0; start < len(pending); start += o.batchSize {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		end := start + o.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		logger.Debug("Processing batch %d-%d of %d", start, end, len(pending))

		g := new(errgroup.Group)
		g.SetLimit(o.maxConcurrent)
		for _, item := range batch {
			g.Go(func() error {
				o.processOneItem(ctx, scope, source, item, tracker)
				return nil
			})
		}
		// Item errors are absorbed into records; Wait never fails here.
		_ = g.Wait()
	}

	// 8. FINALIZING
	o.setPhase(status, PhaseFinalizing)
	summary.Duration = time.Since(started)

	if cancelled {
		// The cursor is not advanced: the next run re-discovers the full
		// window and incremental filtering drops what already landed.
		if err := o.scopeStore.SetStatus(ctx, scopeID, domain.ScopePartial); err != nil {
			logger.Warn("Failed to mark scope %s partial: %v", scopeID, err)
		}
		return summary, ctx.Err()
	}

	var versionToken string
	if source.Capabilities().SupportsVersionToken {
		versionToken = source.VersionToken()
	}
	if err := o.stateStore.AdvanceScopeCursor(ctx, scopeID, snapshot, versionToken, *summary); err != nil {
		// The scope must not stay "running" with no live run. The cursor
		// did not advance, so the next run re-discovers this window.
		if setErr := o.scopeStore.SetStatus(ctx, scopeID, domain.ScopeFailed); setErr != nil {
			logger.Warn("Failed to mark scope %s failed: %v", scopeID, setErr)
		}
		return summary, fmt.Errorf("advance scope cursor: %w", err)
	}

	logger.Info("Sync complete: %d discovered, %d indexed, %d skipped, %d failed in %s",
		summary.Discovered, summary.Indexed, summary.Skipped, summary.Failed, summary.Duration)
	return summary, nil
}

// RunAll synchronises all configured scopes sequentially.
func (o *Orchestrator) RunAll(ctx context.Context, opts driving.RunOptions) ([]domain.SyncRunSummary, error) {
	scopes, err := o.scopeStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}

	var summaries []domain.SyncRunSummary
	var errs []error
	for _, scope := range scopes {
		summary, err := o.Run(ctx, scope.ID, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", scope.ID, err))
			continue
		}
		summaries = append(summaries, *summary)
	}

	if len(errs) > 0 {
		return summaries, errors.Join(errs...)
	}
	return summaries, nil
}

// Status returns the live status of a scope's run.
func (o *Orchestrator) Status(_ context.Context, scopeID string) (*driving.RunStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if status, ok := o.activeRuns[scopeID]; ok {
		// Return a copy to avoid race conditions
		return &driving.RunStatus{
			ScopeID:        status.ScopeID,
			Running:        status.Running,
			Phase:          status.Phase,
			ItemsProcessed: status.ItemsProcessed,
			ErrorCount:     status.ErrorCount,
		}, nil
	}

	return &driving.RunStatus{ScopeID: scopeID, Running: false}, nil
}

// processOneItem runs the per-item pipeline: download, enrich, policy,
// upsert, record. Every outcome is absorbed into a processing record;
// nothing propagates to sibling items or the batch.
func (o *Orchestrator) processOneItem(
	ctx context.Context,
	scope *domain.SyncScope,
	source driven.ContentSource,
	item domain.CandidateItem,
	tracker *runTracker,
) {
	// 1. DOWNLOAD
	content, err := source.Download(ctx, item.ID)
	if err != nil {
		if errors.Is(err, domain.ErrPermanentItem) {
			o.recordSkip(ctx, scope.ID, item, domain.SkipUnsupportedFormat, tracker)
		} else {
			o.recordFailure(ctx, scope.ID, item, domain.SkipDownloadFailed, err, tracker)
		}
		return
	}

	// 2. ENRICH
	judgment, err := o.enricher.Analyze(ctx, content, driven.EnrichmentContext{
		Name:     item.Name,
		ScopeID:  scope.ID,
		MIMEType: item.MIMEType,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPermanentItem) {
			o.recordSkip(ctx, scope.ID, item, domain.SkipUnsupportedFormat, tracker)
		} else {
			o.recordFailure(ctx, scope.ID, item, domain.SkipEnrichmentFailed, err, tracker)
		}
		return
	}

	// 3. POLICY
	decision := o.policy.Decide(judgment)
	if !decision.Keep {
		logger.Debug("Policy rejected %s: %s", item.ID, decision.Reason)
		// Only a durably recorded skip counts as a rejection; a failed
		// record write already counted the item as failed.
		if o.recordSkip(ctx, scope.ID, item, decision.Reason, tracker) {
			tracker.policyRejected()
		}
		return
	}

	// 4. UPSERT
	docID := DocumentID(scope.ID, item.ID)
	if _, err := o.sink.Upsert(ctx, docID, SinkFields(scope, item, judgment)); err != nil {
		o.recordFailure(ctx, scope.ID, item, domain.SkipIndexFailed, err, tracker)
		return
	}

	// 5. RECORD
	if err := o.stateStore.MarkProcessed(ctx, item.ID, scope.ID, docID, item.ModifiedAt, judgment); err != nil {
		logger.Warn("Failed to record %s as processed: %v", item.ID, err)
		tracker.failed()
		return
	}
	logger.Debug("Indexed %s as %s", item.ID, docID)
	tracker.indexed()
}

// recordSkip writes a skipped record carrying the item's modified time, so
// the skip sticks until the item actually changes. Returns false when the
// record write failed and the item was counted as failed instead.
func (o *Orchestrator) recordSkip(ctx context.Context, scopeID string, item domain.CandidateItem, reason domain.SkipReason, tracker *runTracker) bool {
	if err := o.stateStore.MarkSkipped(ctx, item.ID, scopeID, reason, item.ModifiedAt); err != nil {
		logger.Warn("Failed to record %s as skipped: %v", item.ID, err)
		tracker.failed()
		return false
	}
	tracker.skipped()
	return true
}

// recordFailure writes a failed record. Failed records do not carry the
// modified time, so the item is retried on the next run.
func (o *Orchestrator) recordFailure(ctx context.Context, scopeID string, item domain.CandidateItem, reason domain.SkipReason, cause error, tracker *runTracker) {
	logger.Debug("Item %s failed (%s): %v", item.ID, reason, cause)
	if err := o.stateStore.MarkFailed(ctx, item.ID, scopeID, reason); err != nil {
		logger.Warn("Failed to record %s as failed: %v", item.ID, err)
	}
	tracker.failed()
}

// acquireRun registers a live run for the scope, refusing overlap.
func (o *Orchestrator) acquireRun(scopeID string) (*driving.RunStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.activeRuns[scopeID]; ok {
		return nil, fmt.Errorf("%w: scope %s", domain.ErrSyncInProgress, scopeID)
	}
	status := &driving.RunStatus{ScopeID: scopeID, Running: true}
	o.activeRuns[scopeID] = status
	return status, nil
}

// releaseRun removes the live run entry for the scope.
func (o *Orchestrator) releaseRun(scopeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, scopeID)
}

// setPhase updates the live status phase under the run lock.
func (o *Orchestrator) setPhase(status *driving.RunStatus, phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status.Phase = phase
}

// DocumentID derives the deterministic sink document ID for an item.
// Same scope and item always map to the same ID, which is what makes
// sink upserts idempotent.
func DocumentID(scopeID, itemID string) string {
	return uuid.NewSHA1(docIDNamespace, []byte(scopeID+"/"+itemID)).String()
}

// SinkFields flattens an item and its judgment into the scalar field map
// upserted into the index.
func SinkFields(scope *domain.SyncScope, item domain.CandidateItem, judgment *domain.EnrichmentJudgment) map[string]any {
	return map[string]any{
		"item_id":     item.ID,
		"scope_id":    scope.ID,
		"source_type": scope.SourceType,
		"name":        item.Name,
		"mime_type":   item.MIMEType,
		"size_bytes":  item.SizeBytes,
		"modified_at": item.ModifiedAt.UTC().Format(time.RFC3339),
		"tags":        strings.Join(judgment.Tags, ", "),
		"category":    judgment.Category,
		"quality":     string(judgment.QualityFlag),
		"confidence":  judgment.Confidence,
		"description": judgment.Description,
	}
}

// runTracker folds per-item outcomes into the run summary and the live
// status. Items inside a batch complete concurrently, and Status reads
// the same RunStatus fields, so the tracker shares the orchestrator's
// lock rather than carrying its own.
type runTracker struct {
	mu      *sync.RWMutex
	summary *domain.SyncRunSummary
	status  *driving.RunStatus
}

func (t *runTracker) indexed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Indexed++
	t.status.ItemsProcessed++
}

func (t *runTracker) skipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Skipped++
	t.status.ItemsProcessed++
}

func (t *runTracker) policyRejected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.PolicyRejected++
}

func (t *runTracker) failed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Failed++
	t.status.ItemsProcessed++
	t.status.ErrorCount++
}
