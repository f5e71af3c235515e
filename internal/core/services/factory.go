package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// SourceFactory builds content sources from registered builders, keyed
// by source type.
type SourceFactory struct {
	mu       sync.RWMutex
	builders map[string]driven.SourceBuilder
}

// Ensure SourceFactory implements the interface.
var _ driven.SourceFactory = (*SourceFactory)(nil)

// NewSourceFactory creates an empty factory.
func NewSourceFactory() *SourceFactory {
	return &SourceFactory{
		builders: make(map[string]driven.SourceBuilder),
	}
}

// Register adds a builder for a source type, replacing any previous one.
func (f *SourceFactory) Register(sourceType string, builder driven.SourceBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[sourceType] = builder
}

// Create builds a source for the scope's SourceType.
func (f *SourceFactory) Create(ctx context.Context, scope domain.SyncScope) (driven.ContentSource, error) {
	f.mu.RLock()
	builder, ok := f.builders[scope.SourceType]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("source type %q: %w", scope.SourceType, domain.ErrUnsupportedType)
	}
	return builder(ctx, scope)
}

// SupportedTypes returns the registered source types, sorted.
func (f *SourceFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
