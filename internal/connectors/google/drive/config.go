package drive

import (
	"strconv"
	"strings"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// Config holds Google Drive source configuration.
type Config struct {
	// FolderIDs are the folders to discover items under. Defaults to the
	// Drive root.
	FolderIDs []string
	// MimeTypeFilter limits discovery to specific MIME types (optional).
	MimeTypeFilter []string
	// Recursive descends into subfolders when true.
	Recursive bool
	// MaxResults is the page size for API requests.
	MaxResults int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		FolderIDs:  []string{"root"},
		Recursive:  true,
		MaxResults: 100,
	}
}

// ParseConfig extracts configuration from a scope.
func ParseConfig(scope domain.SyncScope) *Config {
	cfg := DefaultConfig()

	// Parse folder_ids
	if val := scope.Config["folder_ids"]; val != "" {
		cfg.FolderIDs = splitTrim(val)
	}

	// Parse mime_types filter
	if val := scope.Config["mime_types"]; val != "" {
		cfg.MimeTypeFilter = splitTrim(val)
	}

	// Parse recursive
	if val := scope.Config["recursive"]; val == "false" {
		cfg.Recursive = false
	}

	// Parse max_results
	if val := scope.Config["max_results"]; val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			cfg.MaxResults = n
		}
	}

	return cfg
}

// Includes reports whether the MIME type passes the configured filter.
// With no explicit filter, all image types pass.
func (c *Config) Includes(mimeType string) bool {
	if len(c.MimeTypeFilter) > 0 {
		for _, filter := range c.MimeTypeFilter {
			if mimeType == filter {
				return true
			}
		}
		return false
	}
	return strings.HasPrefix(mimeType, "image/")
}

func splitTrim(val string) []string {
	parts := strings.Split(val, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
