// Package figma provides a content source for Figma design files.
// Candidate items are the file's top-level frames and components,
// rendered to PNG on download.
package figma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure Source implements the interface.
var _ driven.ContentSource = (*Source)(nil)

// Type is the source type identifier for this connector.
const Type = "figma"

// Default configuration values.
const (
	DefaultBaseURL = "https://api.figma.com"
	DefaultTimeout = 60 * time.Second

	// defaultRequestsPerSecond stays under Figma's per-token limit.
	defaultRequestsPerSecond = 2
)

// MaxDownloadSize is the maximum size for a rendered frame (20MB).
const MaxDownloadSize = 20 * 1024 * 1024

// Node types that become candidate items.
const (
	nodeTypeFrame     = "FRAME"
	nodeTypeComponent = "COMPONENT"
	nodeTypeCanvas    = "CANVAS"
)

// Config holds Figma source configuration.
type Config struct {
	// ScopeID namespaces item IDs (required). Node IDs are only unique
	// within one file, so items carry the scope identity.
	ScopeID string

	// FileKey identifies the design file (required).
	FileKey string

	// Token is the personal access token (required).
	Token string

	// BaseURL is the API base URL (default: https://api.figma.com).
	BaseURL string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration
}

// Source discovers frames in one Figma design file.
type Source struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	scopeID string
	fileKey string
	token   string

	mu     sync.Mutex
	cursor *Cursor
}

// fileResponse is the /v1/files/{key} response, trimmed to what the
// source reads.
type fileResponse struct {
	Name         string   `json:"name"`
	LastModified string   `json:"lastModified"`
	Version      string   `json:"version"`
	Document     fileNode `json:"document"`
}

// fileNode is one node in the document tree.
type fileNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Children []fileNode `json:"children"`
}

// imagesResponse is the /v1/images/{key} response.
type imagesResponse struct {
	Err    string            `json:"err"`
	Images map[string]string `json:"images"`
}

// NewSource creates a Figma source.
func NewSource(cfg Config) (*Source, error) {
	if cfg.ScopeID == "" {
		return nil, fmt.Errorf("figma: scope ID is required: %w", domain.ErrConfiguration)
	}
	if cfg.FileKey == "" {
		return nil, fmt.Errorf("figma: file key is required: %w", domain.ErrConfiguration)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("figma: access token is required: %w", domain.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Source{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1),
		baseURL: cfg.BaseURL,
		scopeID: cfg.ScopeID,
		fileKey: cfg.FileKey,
		token:   cfg.Token,
		cursor:  NewCursor(),
	}, nil
}

// NewFromScope builds a Figma source from scope configuration.
// Recognised keys: "file_key" (required), "token" (required).
func NewFromScope(_ context.Context, scope domain.SyncScope) (driven.ContentSource, error) {
	return NewSource(Config{
		ScopeID: scope.ID,
		FileKey: scope.Config["file_key"],
		Token:   scope.Config["token"],
	})
}

// itemID namespaces a node ID with the scope identity.
func (s *Source) itemID(nodeID string) string {
	return s.scopeID + "/" + nodeID
}

// nodeID recovers the Figma node ID from a namespaced item ID.
func (s *Source) nodeID(itemID string) (string, error) {
	node, ok := strings.CutPrefix(itemID, s.scopeID+"/")
	if !ok || node == "" {
		return "", fmt.Errorf("figma: item %q does not belong to scope %q: %w", itemID, s.scopeID, domain.ErrPermanentItem)
	}
	return node, nil
}

// Type returns the source type identifier.
func (s *Source) Type() string {
	return Type
}

// Capabilities returns what this source supports.
func (s *Source) Capabilities() driven.SourceCapabilities {
	return driven.SourceCapabilities{
		SupportsIncremental:  true,
		SupportsHierarchy:    true,
		SupportsVersionToken: true,
		RequiresAuth:         true,
		SupportsRateLimiting: true,
	}
}

// Validate checks the token and file key by fetching file metadata.
func (s *Source) Validate(ctx context.Context) error {
	_, err := s.fetchFile(ctx)
	return err
}

// List returns the file's frames and components as candidate items.
// All items carry the file's lastModified stamp: Figma versions the
// file as a whole, so an unchanged file yields no items when a
// modified-time floor is given.
func (s *Source) List(ctx context.Context, modifiedAfter time.Time) ([]domain.CandidateItem, error) {
	file, err := s.fetchFile(ctx)
	if err != nil {
		return nil, err
	}

	lastModified, err := time.Parse(time.RFC3339, file.LastModified)
	if err != nil {
		return nil, fmt.Errorf("figma: parse lastModified %q: %w", file.LastModified, err)
	}

	s.mu.Lock()
	s.cursor = &Cursor{
		Version:      CursorVersion,
		FileVersion:  file.Version,
		LastModified: file.LastModified,
	}
	s.mu.Unlock()

	if !modifiedAfter.IsZero() && !lastModified.After(modifiedAfter) {
		return nil, nil
	}

	var items []domain.CandidateItem
	for _, page := range file.Document.Children {
		if page.Type != nodeTypeCanvas {
			continue
		}
		for _, node := range page.Children {
			if node.Type != nodeTypeFrame && node.Type != nodeTypeComponent {
				continue
			}
			items = append(items, domain.CandidateItem{
				ID:         s.itemID(node.ID),
				Name:       node.Name,
				ModifiedAt: lastModified,
				MIMEType:   "image/png",
			})
		}
	}

	return items, nil
}

// Download renders one frame to PNG and fetches the bytes. Rendering is
// a two-step API: request an image export, then download the short-lived
// URL Figma returns.
func (s *Source) Download(ctx context.Context, itemID string) ([]byte, error) {
	nodeID, err := s.nodeID(itemID)
	if err != nil {
		return nil, err
	}

	renderURL := fmt.Sprintf("%s/v1/images/%s?ids=%s&format=png",
		s.baseURL, url.PathEscape(s.fileKey), url.QueryEscape(nodeID))

	body, err := s.get(ctx, renderURL, true)
	if err != nil {
		return nil, err
	}

	var rendered imagesResponse
	if err := json.Unmarshal(body, &rendered); err != nil {
		return nil, fmt.Errorf("figma: decode images response: %w", err)
	}
	if rendered.Err != "" {
		return nil, fmt.Errorf("figma: render %s: %s: %w", nodeID, rendered.Err, domain.ErrTransientProvider)
	}

	imageURL := rendered.Images[nodeID]
	if imageURL == "" {
		// Figma renders missing or unexportable nodes as null
		return nil, fmt.Errorf("figma: node %s cannot be rendered: %w", nodeID, domain.ErrPermanentItem)
	}

	return s.get(ctx, imageURL, false)
}

// VersionToken returns the encoded cursor for the most recent List.
func (s *Source) VersionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor.IsEmpty() {
		return ""
	}
	return s.cursor.Encode()
}

// Watch is not supported for Figma.
func (s *Source) Watch(_ context.Context) (<-chan domain.CandidateItem, error) {
	return nil, fmt.Errorf("figma: watch: %w", domain.ErrUnsupportedType)
}

// Close releases resources.
func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// fetchFile retrieves the file's metadata and document tree.
func (s *Source) fetchFile(ctx context.Context) (*fileResponse, error) {
	fileURL := fmt.Sprintf("%s/v1/files/%s", s.baseURL, url.PathEscape(s.fileKey))
	body, err := s.get(ctx, fileURL, true)
	if err != nil {
		return nil, err
	}

	var file fileResponse
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("figma: decode file response: %w", err)
	}
	return &file, nil
}

// get executes one GET. The token header is only sent to the Figma API,
// never to the pre-signed render URLs.
func (s *Source) get(ctx context.Context, rawURL string, authenticated bool) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("figma: create request: %w", err)
	}
	if authenticated {
		req.Header.Set("X-Figma-Token", s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("figma: send request: %w: %w", domain.ErrTransientProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("figma: read response: %w: %w", domain.ErrTransientProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("figma: %w: %w", domain.ErrRateLimited, domain.ErrTransientProvider)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("figma: status %d for %s: %w", resp.StatusCode, rawURL, domain.ErrConfiguration)
	default:
		return nil, fmt.Errorf("figma: status %d for %s: %w", resp.StatusCode, rawURL, domain.ErrTransientProvider)
	}
}
