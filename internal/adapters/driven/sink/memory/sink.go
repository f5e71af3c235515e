// Package memory provides an in-memory index sink.
// Used by tests and for dry runs without a search backend.
package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure Sink implements the interface.
var _ driven.IndexSink = (*Sink)(nil)

// Sink is an in-memory implementation of driven.IndexSink.
// Upserts are keyed by document ID, so repeated upserts converge to one
// document, matching the contract of real backends.
type Sink struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

// NewSink creates a new in-memory sink.
func NewSink() *Sink {
	return &Sink{
		docs: make(map[string]map[string]any),
	}
}

// Upsert creates or updates a document.
func (s *Sink) Upsert(_ context.Context, documentID string, fields map[string]any) (*driven.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.docs[documentID]

	stored := make(map[string]any, len(fields))
	for k, v := range fields {
		stored[k] = v
	}
	s.docs[documentID] = stored

	return &driven.UpsertResult{DocumentID: documentID, Created: !exists}, nil
}

// Delete removes a document. Returns false if it did not exist.
func (s *Sink) Delete(_ context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.docs[documentID]
	delete(s.docs, documentID)
	return exists, nil
}

// Close releases resources.
func (s *Sink) Close() error {
	return nil
}

// Get returns the stored fields for a document, or nil.
// Test helper.
func (s *Sink) Get(documentID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[documentID]
}

// Count returns the number of stored documents. Test helper.
func (s *Sink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
