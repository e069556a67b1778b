package collect

import (
	"errors"
	"fmt"
)

// baseError carries the fields shared by every collector error: the source
// it happened on, the URL if known, and whether the failure is transient.
type baseError struct {
	Source    string
	URL       string
	Retryable bool
	msg       string
}

func (e *baseError) Error() string {
	out := e.msg
	if e.Source != "" {
		out = fmt.Sprintf("%s (source=%s)", out, e.Source)
	}
	return out
}

// NetworkError is a connection-level failure (DNS, refused, reset).
type NetworkError struct{ baseError }

// NewNetworkError builds a retryable connection-level error.
func NewNetworkError(source, url, msg string) *NetworkError {
	return &NetworkError{baseError{Source: source, URL: url, Retryable: true, msg: msg}}
}

// TimeoutError means the request exceeded its deadline.
type TimeoutError struct{ baseError }

// NewTimeoutError builds a retryable deadline error.
func NewTimeoutError(source, url, msg string) *TimeoutError {
	return &TimeoutError{baseError{Source: source, URL: url, Retryable: true, msg: msg}}
}

// HTTPError is a non-2xx response not otherwise classified. Retryable only
// for server-side statuses.
type HTTPError struct {
	baseError
	StatusCode int
}

// NewHTTPError builds an HTTP status error; 5xx statuses are retryable.
func NewHTTPError(source, url string, status int) *HTTPError {
	return &HTTPError{
		baseError:  baseError{Source: source, URL: url, Retryable: status >= 500, msg: fmt.Sprintf("http %d", status)},
		StatusCode: status,
	}
}

// BlockedError is an explicit anti-bot signal: 403/429 or a block page
// detected in the response body. Never retryable at the same mode; it
// always feeds the escalation decision.
type BlockedError struct {
	baseError
	StatusCode int
}

// NewBlockedError builds an anti-bot block error.
func NewBlockedError(source, url string, status int) *BlockedError {
	return &BlockedError{
		baseError:  baseError{Source: source, URL: url, Retryable: false, msg: fmt.Sprintf("blocked by anti-bot protection (http %d)", status)},
		StatusCode: status,
	}
}

// DataExtractionError means expected data was absent from a successful
// response. The site structure likely changed; retrying cannot help.
type DataExtractionError struct{ baseError }

// NewDataExtractionError builds a non-retryable extraction error.
func NewDataExtractionError(source, url, msg string) *DataExtractionError {
	return &DataExtractionError{baseError{Source: source, URL: url, Retryable: false, msg: msg}}
}

// ValidationError means extracted data failed a sanity check.
type ValidationError struct {
	baseError
	Field string
}

// NewValidationError builds a non-retryable validation error for a field.
func NewValidationError(source, field, msg string) *ValidationError {
	return &ValidationError{
		baseError: baseError{Source: source, Retryable: false, msg: msg},
		Field:     field,
	}
}

// IsRetryable reports whether err is classified as transient and safe to
// retry at the same mode. Unknown error types are not retried.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Retryable
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}

// ErrorTypeOf returns the canonical taxonomy name for err, used in metrics
// records and escalation decisions.
func ErrorTypeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case isType[*BlockedError](err):
		return "BlockedError"
	case isType[*TimeoutError](err):
		return "TimeoutError"
	case isType[*NetworkError](err):
		return "NetworkError"
	case isType[*HTTPError](err):
		return "HTTPError"
	case isType[*DataExtractionError](err):
		return "DataExtractionError"
	case isType[*ValidationError](err):
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

// StatusCodeOf extracts the HTTP status carried by err, if any.
func StatusCodeOf(err error) (int, bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.StatusCode, true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode, true
	}
	return 0, false
}

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
