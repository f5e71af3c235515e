package gmail

import (
	"strconv"
	"strings"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// Config holds Gmail source configuration.
type Config struct {
	// Query is a Gmail search query narrowing discovery (optional).
	Query string
	// LabelIDs limits discovery to specific label IDs (optional).
	LabelIDs []string
	// MimeTypeFilter limits attachments to specific MIME types (optional).
	MimeTypeFilter []string
	// MaxResults is the page size for API requests.
	MaxResults int64
	// IncludeSpamTrash includes spam and trash if true.
	IncludeSpamTrash bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxResults: 100,
	}
}

// ParseConfig extracts configuration from a scope.
func ParseConfig(scope domain.SyncScope) *Config {
	cfg := DefaultConfig()

	// Parse query
	if val := scope.Config["query"]; val != "" {
		cfg.Query = val
	}

	// Parse label_ids
	if val := scope.Config["label_ids"]; val != "" {
		cfg.LabelIDs = splitTrim(val)
	}

	// Parse mime_types filter
	if val := scope.Config["mime_types"]; val != "" {
		cfg.MimeTypeFilter = splitTrim(val)
	}

	// Parse max_results
	if val := scope.Config["max_results"]; val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			cfg.MaxResults = n
		}
	}

	// Parse include_spam_trash
	if val := scope.Config["include_spam_trash"]; val == "true" {
		cfg.IncludeSpamTrash = true
	}

	return cfg
}

// Includes reports whether the attachment MIME type passes the filter.
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
