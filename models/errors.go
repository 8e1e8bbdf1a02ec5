package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// ErrCodeNavigation covers unreachable sites, DNS failures and HTTP
	// errors while loading the target page. Transient.
	ErrCodeNavigation = "NAVIGATION_FAILED"

	// ErrCodeReadinessTimeout means the page loaded but the configured
	// readiness condition never became true. Transient.
	ErrCodeReadinessTimeout = "READINESS_TIMEOUT"

	// ErrCodeSchemaMismatch means the page rendered but a required schema
	// field was absent. The site layout changed; retrying cannot help.
	ErrCodeSchemaMismatch = "SCHEMA_MISMATCH"

	// ErrCodePoolTimeout means no browser session freed up within the
	// acquire wait. Transient.
	ErrCodePoolTimeout = "POOL_TIMEOUT"

	// ErrCodeMaxRetries is terminal for one refresh: every attempt failed
	// or the refresh deadline was reached.
	ErrCodeMaxRetries = "MAX_RETRIES_EXCEEDED"

	ErrCodeUnknownTarget = "UNKNOWN_TARGET"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBrowserCrash  = "BROWSER_CRASH"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Errors without a ScrapeError in their chain report ErrCodeInternal.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsTransient reports whether err is worth retrying with a fresh session.
// Schema mismatches are a data-shape failure, not a flaky-site failure,
// so they are excluded along with everything unclassified.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNavigation, ErrCodeReadinessTimeout, ErrCodePoolTimeout, ErrCodeBrowserCrash:
		return true
	}
	return false
}
