// Package errors defines the error taxonomy shared by the provider client,
// rate limiter, coordinator and dispatcher.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUnauthorized represents credential failures. Fatal for the
	// session: the cache is cleared and polling halts until re-auth.
	CategoryUnauthorized ErrorCategory = "unauthorized"
	// CategoryRateLimited represents provider throttling, retried by the limiter.
	CategoryRateLimited ErrorCategory = "rate_limited"
	// CategoryNotFound represents an unknown proxy identifier.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryTransient represents network/5xx failures that are safe to retry.
	CategoryTransient ErrorCategory = "transient"
	// CategoryMalformed represents unparseable provider responses, never retried.
	CategoryMalformed ErrorCategory = "malformed"
	// CategoryBusy represents a per-proxy command collision.
	CategoryBusy ErrorCategory = "busy"
	// CategoryValidation represents bad caller input.
	CategoryValidation ErrorCategory = "validation"
	// CategoryCancelled represents caller-side context cancellation,
	// never retried and never confused with a provider failure.
	CategoryCancelled ErrorCategory = "cancelled"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error

	// RetryAfter is the provider-suggested wait for rate-limited errors.
	RetryAfter time.Duration
	// Attempts is how many tries the limiter made before giving up.
	Attempts int
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnauthorized,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewRateLimitedError creates a rate-limited error carrying the
// provider's retry-after hint (zero when the provider gave none).
func NewRateLimitedError(retryAfter time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMITED",
		Message:    "provider rate limit exceeded",
		RetryAfter: retryAfter,
		Details: map[string]interface{}{
			"retryAfter": retryAfter.String(),
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewTransientError creates a retryable transport/server error
func NewTransientError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSIENT",
		Message:    message,
		Cause:      cause,
	}
}

// NewMalformedError creates an error for an unparseable provider response.
// Indicates a provider contract change; surfaced immediately, never retried.
func NewMalformedError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMalformed,
		StatusCode: http.StatusBadGateway,
		Code:       "MALFORMED_RESPONSE",
		Message:    message,
		Cause:      cause,
	}
}

// NewBusyError creates an error for a command that collided with one
// already in flight for the same proxy.
func NewBusyError(proxyID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBusy,
		StatusCode: http.StatusConflict,
		Code:       "BUSY",
		Message:    fmt.Sprintf("a command for proxy %s is already in flight", proxyID),
		Details: map[string]interface{}{
			"proxyId": proxyID,
		},
	}
}

// NewValidationError creates an invalid parameter error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewCancelledError wraps a context cancellation or deadline expiry.
func NewCancelledError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCancelled,
		StatusCode: http.StatusRequestTimeout,
		Code:       "CANCELLED",
		Message:    "operation cancelled",
		Cause:      cause,
	}
}

// WithAttempts annotates an error with the retry attempt count for
// diagnostics when the limiter exhausts its budget.
func WithAttempts(err error, attempts int) error {
	if catErr := AsCategorized(err); catErr != nil {
		catErr.Attempts = attempts
		if catErr.Details == nil {
			catErr.Details = map[string]interface{}{}
		}
		catErr.Details["attempts"] = attempts
		return catErr
	}
	return err
}

// AsCategorized extracts a CategorizedError from err's chain, or nil.
func AsCategorized(err error) *CategorizedError {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}
	return nil
}

// CategoryOf returns the category of an error, defaulting to transient
// for uncategorized errors (unknown failures are treated as retryable
// transport problems).
func CategoryOf(err error) ErrorCategory {
	if catErr := AsCategorized(err); catErr != nil {
		return catErr.Category
	}
	return CategoryTransient
}

// IsUnauthorized reports whether err is a credential failure.
func IsUnauthorized(err error) bool {
	return CategoryOf(err) == CategoryUnauthorized
}

// IsNotFound reports whether err is an unknown-resource failure.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsBusy reports whether err is a per-proxy command collision.
func IsBusy(err error) bool {
	return CategoryOf(err) == CategoryBusy
}

// IsRetryable determines if an error should be retried by the limiter
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryRateLimited, CategoryTransient:
		return true
	default:
		return false
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := AsCategorized(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
