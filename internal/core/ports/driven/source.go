package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// ContentSource discovers and downloads items from an external provider.
// Each source type (filesystem, drive, gmail, figma) implements this
// interface.
//
// Error contract: List errors are fatal for the scope and propagate to the
// orchestrator, which marks the scope failed without starting processing.
// Download errors are item-scoped and must not abort the batch.
type ContentSource interface {
	// Type returns the source type identifier.
	Type() string

	// Capabilities returns what this source supports.
	Capabilities() SourceCapabilities

	// Validate checks if the source is properly configured and reachable.
	// For API sources this typically makes a test call; for filesystem
	// it checks the path exists and is readable.
	Validate(ctx context.Context) error

	// List returns all candidate items modified after the given time.
	// A zero time means list everything. Pagination is handled internally.
	// Sources with a hierarchical container model resolve shortcuts to
	// canonical items, recurse into sub-containers when configured, and
	// de-duplicate items reachable by multiple paths.
	List(ctx context.Context, modifiedAfter time.Time) ([]domain.CandidateItem, error)

	// Download fetches the raw bytes for an item.
	Download(ctx context.Context, itemID string) ([]byte, error)

	// VersionToken returns the provider's change token observed by the
	// most recent List call. Empty for timestamp-based sources.
	// Only meaningful if SupportsVersionToken is true.
	VersionToken() string

	// Watch listens for real-time changes.
	// Only available if SupportsWatch is true.
	Watch(ctx context.Context) (<-chan domain.CandidateItem, error)

	// Close releases resources.
	Close() error
}

// SourceCapabilities describes what a content source supports.
type SourceCapabilities struct {
	// SupportsIncremental indicates List can filter by modified time
	// server-side. Sources without it return everything and rely on the
	// engine's incremental filtering.
	SupportsIncremental bool

	// SupportsWatch indicates the source can push real-time events.
	SupportsWatch bool

	// SupportsHierarchy indicates the source has nested containers.
	SupportsHierarchy bool

	// SupportsVersionToken indicates the source tracks changes by an
	// opaque version token rather than timestamps.
	SupportsVersionToken bool

	// RequiresAuth indicates the source needs credentials.
	// False for local sources like filesystem.
	RequiresAuth bool

	// SupportsRateLimiting indicates the source throttles its own API
	// calls internally. Informational.
	SupportsRateLimiting bool
}

// SourceFactory builds content sources from scope configuration.
type SourceFactory interface {
	// Create builds a source for the scope's SourceType.
	Create(ctx context.Context, scope domain.SyncScope) (ContentSource, error)

	// Register adds a builder for a source type.
	Register(sourceType string, builder SourceBuilder)

	// SupportedTypes returns the registered source types.
	SupportedTypes() []string
}

// SourceBuilder constructs a content source from a scope.
type SourceBuilder func(ctx context.Context, scope domain.SyncScope) (ContentSource, error)
