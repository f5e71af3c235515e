package services

import (
	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure DefaultPolicy implements the interface.
var _ driven.PolicyFilter = (*DefaultPolicy)(nil)

// DefaultPolicy is the standard keep/skip filter applied to enrichment
// judgments. It is pure: the same judgment always yields the same decision,
// so policy can be relaxed and re-applied without recomputing enrichment.
type DefaultPolicy struct {
	// MinConfidence rejects judgments below this confidence as low
	// quality. Zero disables the check.
	MinConfidence float64

	// AllowSensitive indexes sensitive content instead of rejecting it.
	// Off by default.
	AllowSensitive bool
}

// NewDefaultPolicy creates the standard policy filter.
func NewDefaultPolicy(minConfidence float64) *DefaultPolicy {
	return &DefaultPolicy{MinConfidence: minConfidence}
}

// Decide returns a keep-or-skip decision for a judgment.
func (p *DefaultPolicy) Decide(judgment *domain.EnrichmentJudgment) domain.PolicyDecision {
	if judgment == nil {
		return domain.SkipDecision(domain.SkipLowQuality)
	}
	if judgment.SensitiveContent && !p.AllowSensitive {
		return domain.SkipDecision(domain.SkipSensitiveContent)
	}
	if judgment.QualityFlag == domain.QualityLow {
		return domain.SkipDecision(domain.SkipLowQuality)
	}
	if p.MinConfidence > 0 && judgment.Confidence < p.MinConfidence {
		return domain.SkipDecision(domain.SkipLowQuality)
	}
	return domain.KeepDecision()
}
