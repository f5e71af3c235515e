package driven

import (
	"context"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// EnrichmentContext carries item metadata into the enrichment call.
type EnrichmentContext struct {
	// Name is the item's display name.
	Name string

	// ScopeID identifies the scope the item belongs to.
	ScopeID string

	// MIMEType is the item's content type.
	MIMEType string
}

// Enricher turns raw content bytes into a structured judgment.
// The call is opaque to the engine: it may be rate-limited and fallible,
// and its errors are item-scoped, never run-fatal.
type Enricher interface {
	// Analyze produces a judgment for the given content.
	Analyze(ctx context.Context, content []byte, ectx EnrichmentContext) (*domain.EnrichmentJudgment, error)

	// Close releases resources.
	Close() error
}

// PolicyFilter decides whether an enriched item is indexed or rejected.
// Implementations must be pure: same judgment, same decision.
// Decoupling policy from enrichment lets the engine relax policy without
// recomputing enrichment.
type PolicyFilter interface {
	// Decide returns a keep-or-skip decision for a judgment.
	Decide(judgment *domain.EnrichmentJudgment) domain.PolicyDecision
}
