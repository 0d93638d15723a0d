package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents a category of delivery error for metrics.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side errors (5xx status codes)
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side errors (4xx status codes)
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// ExportError is a structured error returned from Send. It carries the
// error type and HTTP status code so callers can decide whether to retry.
type ExportError struct {
	// Err is the underlying error.
	Err error
	// Type is the classified error type.
	Type ErrorType
	// StatusCode is the HTTP status code (0 for network errors).
	StatusCode int
	// URL is the request target that failed.
	URL string
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("delivery error: type=%s status=%d", e.Type, e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the same request
// may succeed on retry (server errors, network issues, timeouts, rate limits).
func (e *ExportError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is an ExportError worth retrying. Errors of
// other kinds are treated as retryable since queued records are never
// dropped on failure.
func IsRetryable(err error) bool {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	return err != nil
}

// classifyError categorizes an error into a low-cardinality error type.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "network is unreachable"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"):
		return ErrorTypeNetwork
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"):
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

// classifyHTTPStatusCode categorizes an HTTP status code into an error type.
func classifyHTTPStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
