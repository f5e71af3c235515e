// Package anthropic provides a content enricher using the Anthropic API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure Enricher implements the interface.
var _ driven.Enricher = (*Enricher)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-5-sonnet-latest"
	DefaultTimeout = 120 * time.Second

	// anthropicVersion is the required API version header.
	anthropicVersion = "2023-06-01"

	// defaultRequestsPerSecond keeps vision calls under the API tier limit.
	defaultRequestsPerSecond = 2
)

// Config holds configuration for the Anthropic enricher.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.anthropic.com).
	BaseURL string

	// Model is the vision model to use (default: claude-3-5-sonnet-latest).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration

	// RequestsPerSecond caps the API call rate (default: 2).
	RequestsPerSecond float64
}

// Enricher analyses media content with the Anthropic Messages API and
// returns a structured judgment.
type Enricher struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	apiKey  string
	model   string
}

// analysisPrompt asks the model for a judgment as strict JSON so the
// response can be unmarshalled directly.
const analysisPrompt = `Analyse this image and respond with ONLY a JSON object, no other text:
{
  "tags": ["up to 8 short descriptive labels"],
  "category": "one of: photo, screenshot, diagram, document, artwork, other",
  "quality": "good, low or unknown",
  "sensitive_content": true if the image shows people's faces, identity documents, credentials or other private material,
  "confidence": 0.0 to 1.0,
  "description": "one sentence describing the image"
}`

// messagesRequest is the Anthropic /v1/messages request format.
type messagesRequest struct {
	Model     string            `json:"model"`
	Messages  []messagesMessage `json:"messages"`
	MaxTokens int               `json:"max_tokens"`
}

// messagesMessage is the Anthropic message format with content blocks.
type messagesMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock is a single block in a message: an image or text.
type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

// imageSource carries base64-encoded image data.
type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// messagesResponse is the Anthropic /v1/messages response format.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// judgmentJSON is the JSON shape the model is prompted to return.
type judgmentJSON struct {
	Tags             []string `json:"tags"`
	Category         string   `json:"category"`
	Quality          string   `json:"quality"`
	SensitiveContent bool     `json:"sensitive_content"`
	Confidence       float64  `json:"confidence"`
	Description      string   `json:"description"`
}

// supportedMediaTypes are the image formats the Messages API accepts.
var supportedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// NewEnricher creates a new Anthropic enricher.
func NewEnricher(cfg Config) (*Enricher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required: %w", domain.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}

	return &Enricher{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Analyze sends the content to the vision model and parses its judgment.
func (e *Enricher) Analyze(ctx context.Context, content []byte, ectx driven.EnrichmentContext) (*domain.EnrichmentJudgment, error) {
	if !supportedMediaTypes[ectx.MIMEType] {
		return nil, fmt.Errorf("anthropic: media type %q not supported: %w", ectx.MIMEType, domain.ErrPermanentItem)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("anthropic: empty content for %s: %w", ectx.Name, domain.ErrPermanentItem)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("anthropic: rate limiter: %w", err)
	}

	reqBody := messagesRequest{
		Model:     e.model,
		MaxTokens: 1024,
		Messages: []messagesMessage{{
			Role: "user",
			Content: []contentBlock{
				{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: ectx.MIMEType,
						Data:      base64.StdEncoding.EncodeToString(content),
					},
				},
				{Type: "text", Text: analysisPrompt},
			},
		}},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+"/v1/messages",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w: %w", domain.ErrTransientProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w: %w", domain.ErrTransientProvider, err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if msgResp.Error != nil {
		return nil, fmt.Errorf("anthropic error: %s: %w", msgResp.Error.Message, domain.ErrTransientProvider)
	}
	if len(msgResp.Content) == 0 {
		return nil, fmt.Errorf("anthropic: no response content returned: %w", domain.ErrTransientProvider)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseJudgment(text.String())
}

// checkStatus maps HTTP status codes onto domain errors. Client errors
// on the request payload are permanent for the item; throttling and
// server errors are transient.
func checkStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("anthropic: %w: %w", domain.ErrRateLimited, domain.ErrTransientProvider)
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnsupportedMediaType:
		return fmt.Errorf("anthropic: API returned status %d: %s: %w", status, string(body), domain.ErrPermanentItem)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("anthropic: API returned status %d: %w", status, domain.ErrConfiguration)
	default:
		return fmt.Errorf("anthropic: API returned status %d: %s: %w", status, string(body), domain.ErrTransientProvider)
	}
}

// parseJudgment unmarshals the model's JSON answer into a judgment.
// Models occasionally wrap the JSON in prose, so the parser slices the
// outermost object first.
func parseJudgment(text string) (*domain.EnrichmentJudgment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("anthropic: no JSON object in response: %w", domain.ErrTransientProvider)
	}

	var raw judgmentJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("anthropic: parse judgment: %w: %w", domain.ErrTransientProvider, err)
	}

	quality := domain.QualityUnknown
	switch raw.Quality {
	case "good":
		quality = domain.QualityGood
	case "low":
		quality = domain.QualityLow
	}

	return &domain.EnrichmentJudgment{
		Tags:             raw.Tags,
		Category:         raw.Category,
		QualityFlag:      quality,
		SensitiveContent: raw.SensitiveContent,
		Confidence:       raw.Confidence,
		Description:      raw.Description,
	}, nil
}

// ModelName returns the name of the vision model being used.
func (e *Enricher) ModelName() string {
	return e.model
}

// Close releases resources.
func (e *Enricher) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
