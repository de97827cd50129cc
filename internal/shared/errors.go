package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")
	ErrTimeout        = fmt.Errorf("operation timed out")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthenticationRequired = fmt.Errorf("authentication required")
	ErrTokenExpired           = fmt.Errorf("access token expired")
	ErrCredentialNotFound     = fmt.Errorf("credential not found")
	ErrAuthFailed             = fmt.Errorf("authentication failed")

	// API and service errors
	ErrAPIRequest = fmt.Errorf("API request failed")

	// Sync errors
	ErrSyncAborted    = fmt.Errorf("sync aborted")
	ErrSyncInProgress = fmt.Errorf("sync already in progress")
	ErrRunFinalized   = fmt.Errorf("sync run already finalized")
	ErrRunNotFound    = fmt.Errorf("sync run not found")
	ErrEntityNotFound = fmt.Errorf("entity not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ExternalServiceError is returned when the remote service answers with a non-2xx status.
type ExternalServiceError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // zero when the response carried no hint
}

func (e *ExternalServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote service error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service error: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status class may be retried automatically (rate limit, temporary unavailability).
func (e *ExternalServiceError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// NetworkTransportError wraps a connection-level failure (DNS, refused, reset, timeout).
type NetworkTransportError struct {
	Op  string
	Err error
}

func (e *NetworkTransportError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkTransportError) Unwrap() error { return e.Err }

// MappingError describes a single remote record that could not be normalized.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %s", e.Field, e.Reason)
}

// NewMappingError builds a [MappingError] with a formatted reason.
func NewMappingError(field, format string, args ...any) *MappingError {
	return &MappingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether a caller may retry the failed operation later.
//
// Authentication failures need re-authorization instead, and mapping failures never surface as run errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthenticationRequired) || errors.Is(err, ErrTokenExpired) {
		return false
	}

	var extErr *ExternalServiceError
	if errors.As(err, &extErr) {
		return extErr.StatusCode >= 500 || extErr.Retryable()
	}

	var netErr *NetworkTransportError
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, ErrSyncAborted) || errors.Is(err, ErrSyncInProgress)
}

// IsAuthError reports whether err requires the user to re-authorize.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationRequired) || errors.Is(err, ErrTokenExpired)
}
