package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown source or sink type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSyncInProgress indicates a run is already active for the scope.
	// A second run against the same scope is refused rather than racing
	// the first run's processing records.
	ErrSyncInProgress = errors.New("sync in progress")

	// Run-fatal errors. Only these escalate to the caller; per-item
	// errors are absorbed into processing records.

	// ErrConfiguration indicates missing credentials or an invalid scope.
	// Fatal before discovery; the scope is left untouched.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientProvider indicates a network or provider failure.
	// Fatal during discovery; item-scoped during batch processing.
	ErrTransientProvider = errors.New("transient provider error")

	// Item-scoped errors.

	// ErrPermanentItem indicates a corrupt or unsupported item.
	// Recorded as skipped and never retried until the item changes.
	ErrPermanentItem = errors.New("permanent item error")

	// ErrRateLimited indicates the provider's rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrSourceClosed indicates the content source has been closed.
	ErrSourceClosed = errors.New("content source closed")

	// ErrSourceValidation indicates source validation failed.
	// The scope is misconfigured or credentials are invalid.
	ErrSourceValidation = errors.New("source validation failed")
)
