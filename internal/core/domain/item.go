package domain

import "time"

// CandidateItem is an external item snapshot returned by a content source
// during discovery. It is transient and never persisted as-is.
type CandidateItem struct {
	// ID is the provider-assigned item identifier.
	ID string

	// Name is the item's display name (file name, subject, frame title).
	Name string

	// ModifiedAt is the provider's last-modified timestamp for the item.
	ModifiedAt time.Time

	// SizeBytes is the item's size, zero if the provider doesn't report it.
	SizeBytes int64

	// MIMEType is the content type (e.g. "image/png").
	MIMEType string
}

// ItemStatus is the terminal outcome recorded for an item.
type ItemStatus string

const (
	// ItemIndexed means the item was enriched and upserted into the sink.
	ItemIndexed ItemStatus = "indexed"

	// ItemSkipped means the item was deliberately not indexed.
	ItemSkipped ItemStatus = "skipped"

	// ItemFailed means a transient error stopped the item's pipeline.
	ItemFailed ItemStatus = "failed"
)

// SkipReason explains why an item was skipped or failed.
type SkipReason string

const (
	// SkipUnchanged means the item's modified time has not advanced since
	// its last successful record.
	SkipUnchanged SkipReason = "unchanged"

	// SkipSensitiveContent means the policy filter flagged the content.
	SkipSensitiveContent SkipReason = "sensitive_content"

	// SkipLowQuality means enrichment judged the content below threshold.
	SkipLowQuality SkipReason = "low_quality"

	// SkipDownloadFailed means the source could not deliver the bytes.
	SkipDownloadFailed SkipReason = "download_failed"

	// SkipEnrichmentFailed means the enrichment call errored.
	SkipEnrichmentFailed SkipReason = "enrichment_failed"

	// SkipUnsupportedFormat means the item's format cannot be processed.
	SkipUnsupportedFormat SkipReason = "unsupported_format"

	// SkipIndexFailed means the sink upsert errored.
	SkipIndexFailed SkipReason = "index_failed"
)

// ProcessingRecord is the durable, idempotency-granting record of an item's
// outcome. At most one record exists per item; the record is overwritten
// (never appended) when the item's modified time advances, which is what
// triggers reprocessing.
//
// Invariant: SinkDocID is non-empty if and only if Status is ItemIndexed.
type ProcessingRecord struct {
	// ItemID is the provider item identifier (primary key).
	ItemID string

	// ScopeID links to the scope the item was discovered under.
	ScopeID string

	// Status is the terminal outcome.
	Status ItemStatus

	// SkipReason explains a skipped or failed status. Empty when indexed.
	SkipReason SkipReason

	// SinkDocID is the deterministic document ID upserted into the sink.
	// Empty unless Status is ItemIndexed.
	SinkDocID string

	// SourceModifiedAt is the item's modified time at processing.
	// Compared against the current candidate to decide reprocessing.
	SourceModifiedAt time.Time

	// ProcessedAt is when the record was written.
	ProcessedAt time.Time

	// Tags and Category carry the enrichment judgment for indexed items.
	Tags     []string
	Category string
}
