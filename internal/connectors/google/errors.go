package google

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}
	return false
}

// RetryAfterSeconds extracts the Retry-After header from a rate limit
// error, or 0 when absent.
func RetryAfterSeconds(err error) int {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Header == nil {
		return 0
	}
	var seconds int
	if _, scanErr := fmt.Sscanf(gerr.Header.Get("Retry-After"), "%d", &seconds); scanErr != nil {
		return 0
	}
	return seconds
}

// WrapError maps a Google API error onto the engine's error taxonomy.
// Credential problems are configuration errors, missing resources are
// permanent for the item, throttling and server failures are transient.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("google: %w: %w", domain.ErrTransientProvider, err)
	}

	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("google: status %d: %s: %w", gerr.Code, gerr.Message, domain.ErrConfiguration)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("google: status %d: %s: %w", gerr.Code, gerr.Message, domain.ErrPermanentItem)
	case http.StatusTooManyRequests:
		return fmt.Errorf("google: %s: %w: %w", gerr.Message, domain.ErrRateLimited, domain.ErrTransientProvider)
	default:
		return fmt.Errorf("google: status %d: %s: %w", gerr.Code, gerr.Message, domain.ErrTransientProvider)
	}
}
