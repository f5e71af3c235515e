// Package vertex provides an IndexSink backed by a Vertex AI Search
// data store via its documents REST API.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure Sink implements the interface.
var _ driven.IndexSink = (*Sink)(nil)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

// Config holds configuration for the Vertex sink.
type Config struct {
	// Endpoint is the full data-store branch URL, e.g.
	// https://discoveryengine.googleapis.com/v1/projects/P/locations/global/
	// collections/default_collection/dataStores/D/branches/0 (required).
	Endpoint string

	// TokenSource provides OAuth2 tokens for the API (required).
	TokenSource oauth2.TokenSource

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// Sink upserts enriched documents into a Vertex AI Search data store.
// Upserts are idempotent: a create that collides with an existing
// document falls back to updating it in place.
type Sink struct {
	client   *http.Client
	endpoint string
}

// document is the wire format for a data-store document.
type document struct {
	ID         string         `json:"id,omitempty"`
	StructData map[string]any `json:"structData"`
}

// apiError is the error envelope returned by Google APIs.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewSink creates a new Vertex sink.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("vertex: endpoint is required: %w", domain.ErrConfiguration)
	}
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("vertex: token source is required: %w", domain.ErrConfiguration)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := oauth2.NewClient(context.Background(), cfg.TokenSource)
	client.Timeout = cfg.Timeout

	return &Sink{
		client:   client,
		endpoint: cfg.Endpoint,
	}, nil
}

// Upsert writes the document under the given ID, creating it if absent
// and updating it in place if it already exists. Calling it twice with
// the same ID and fields leaves a single document behind.
func (s *Sink) Upsert(ctx context.Context, documentID string, fields map[string]any) (*driven.UpsertResult, error) {
	body, err := json.Marshal(document{StructData: fields})
	if err != nil {
		return nil, fmt.Errorf("vertex: marshal document: %w", err)
	}

	createURL := fmt.Sprintf("%s/documents?documentId=%s", s.endpoint, url.QueryEscape(documentID))
	status, respBody, err := s.do(ctx, http.MethodPost, createURL, body)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return &driven.UpsertResult{DocumentID: documentID, Created: true}, nil
	case status == http.StatusConflict:
		// Document exists, update in place
	default:
		return nil, statusError("create document", status, respBody)
	}

	updateURL := fmt.Sprintf("%s/documents/%s", s.endpoint, url.PathEscape(documentID))
	status, respBody, err = s.do(ctx, http.MethodPatch, updateURL, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("update document", status, respBody)
	}

	return &driven.UpsertResult{DocumentID: documentID, Created: false}, nil
}

// Delete removes a document. Returns false without error when the
// document does not exist.
func (s *Sink) Delete(ctx context.Context, documentID string) (bool, error) {
	deleteURL := fmt.Sprintf("%s/documents/%s", s.endpoint, url.PathEscape(documentID))
	status, respBody, err := s.do(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return false, err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("delete document", status, respBody)
	}
}

// do executes one API call and returns the status and body.
func (s *Sink) do(ctx context.Context, method, rawURL string, body []byte) (int, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("vertex: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("vertex: send request: %w: %w", domain.ErrTransientProvider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("vertex: read response: %w: %w", domain.ErrTransientProvider, err)
	}

	return resp.StatusCode, respBody, nil
}

// statusError maps an unexpected status code onto a domain error.
func statusError(op string, status int, body []byte) error {
	msg := string(body)
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("vertex: %s: %s: %w: %w", op, msg, domain.ErrRateLimited, domain.ErrTransientProvider)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("vertex: %s: status %d: %s: %w", op, status, msg, domain.ErrConfiguration)
	case status >= 400 && status < 500:
		return fmt.Errorf("vertex: %s: status %d: %s: %w", op, status, msg, domain.ErrPermanentItem)
	default:
		return fmt.Errorf("vertex: %s: status %d: %s: %w", op, status, msg, domain.ErrTransientProvider)
	}
}

// Close releases resources.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
