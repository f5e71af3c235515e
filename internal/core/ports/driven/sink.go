package driven

import "context"

// UpsertResult reports the outcome of a sink upsert.
type UpsertResult struct {
	// DocumentID is the ID of the document that now exists in the sink.
	DocumentID string

	// Created is true if the document was newly created, false if an
	// existing document was updated in place.
	Created bool
}

// IndexSink upserts searchable documents into an index.
//
// Upsert is idempotent: the document ID is deterministic (derived from item
// identity), implementations attempt create and transparently fall back to
// update on a "document exists" conflict. Repeated upserts with identical
// ID and fields converge to one document, never duplicates.
type IndexSink interface {
	// Upsert creates or updates a document. Fields must be flat scalars.
	Upsert(ctx context.Context, documentID string, fields map[string]any) (*UpsertResult, error)

	// Delete removes a document. Returns false if it did not exist.
	Delete(ctx context.Context, documentID string) (bool, error)

	// Close releases resources.
	Close() error
}
