// Package domain contains the core types for incremental content sync:
// scopes, candidate items, processing records, enrichment judgments and
// run summaries. It has no dependencies on adapters or external services.
package domain
