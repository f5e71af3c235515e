// Package driven defines the outbound ports consumed by the sync engine:
// content sources, the enrichment stage, the index sink and the durable
// state store. Adapters implement these interfaces.
package driven
