package domain

// QualityFlag is the enrichment stage's coarse quality verdict.
type QualityFlag string

const (
	// QualityGood means the content is worth indexing.
	QualityGood QualityFlag = "good"

	// QualityLow means the content is blurry, truncated or uninformative.
	QualityLow QualityFlag = "low"

	// QualityUnknown means the enrichment stage could not judge quality.
	QualityUnknown QualityFlag = "unknown"
)

// EnrichmentJudgment is the structured output of the enrichment stage.
// It is not persisted directly: kept items fold it into the indexed
// document, rejected items fold it into the skip reason.
type EnrichmentJudgment struct {
	// Tags are freeform labels describing the content.
	Tags []string

	// Category is a single coarse classification.
	Category string

	// QualityFlag is the coarse quality verdict.
	QualityFlag QualityFlag

	// SensitiveContent flags content that must not be indexed.
	SensitiveContent bool

	// Confidence is the enrichment model's self-reported confidence (0..1).
	Confidence float64

	// Description is a short natural-language summary of the content.
	Description string
}

// PolicyDecision is the outcome of the policy filter for one judgment.
type PolicyDecision struct {
	// Keep indicates the item should be indexed.
	Keep bool

	// Reason explains a rejection. Unset when Keep is true.
	Reason SkipReason
}

// KeepDecision returns a decision that keeps the item.
func KeepDecision() PolicyDecision {
	return PolicyDecision{Keep: true}
}

// SkipDecision returns a decision that rejects the item with a reason.
func SkipDecision(reason SkipReason) PolicyDecision {
	return PolicyDecision{Reason: reason}
}
