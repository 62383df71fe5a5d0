package recall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass is the failure taxonomy every outbound call resolves to.
// Transient errors are retried, structural errors are not, data errors mean
// "no signal this cycle" for the asset involved.
type ErrorClass string

const (
	ErrTransient  ErrorClass = "transient"  // timeouts, rate limits, 5xx
	ErrStructural ErrorClass = "structural" // insufficient balance, asset too new, bad pair
	ErrData       ErrorClass = "data"       // missing or invalid price/quote
)

// APIError is the typed result of a failed Recall call.
type APIError struct {
	Class      ErrorClass
	Op         string // "portfolio", "price", "quote", "trade"
	Symbol     string // asset involved, if any
	StatusCode int
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("recall %s %s: %s (%s): %v", e.Op, e.Symbol, e.Message, e.Class, e.Cause)
	}
	return fmt.Sprintf("recall %s %s: %s (%s)", e.Op, e.Symbol, e.Message, e.Class)
}

func (e *APIError) Unwrap() error { return e.Cause }

// Retryable reports whether the error is worth another attempt.
func (e *APIError) Retryable() bool { return e.Class == ErrTransient }

// ListingAge reports whether the remote rejected the asset for being too
// recently listed. These resolve slowly and get the long quarantine class.
func (e *APIError) ListingAge() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "too new") || strings.Contains(msg, "listing age")
}

// ClassOf extracts the error class, defaulting unknown errors to transient
// so they get retried rather than silently dropped.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrTransient
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// classifyHTTP maps a response status and body message onto the taxonomy.
func classifyHTTP(status int, message string) ErrorClass {
	switch {
	case status == 429 || status >= 500:
		return ErrTransient
	case status >= 400:
		msg := strings.ToLower(message)
		if strings.Contains(msg, "insufficient") ||
			strings.Contains(msg, "too new") ||
			strings.Contains(msg, "listing age") ||
			strings.Contains(msg, "invalid pair") ||
			strings.Contains(msg, "unsupported") {
			return ErrStructural
		}
		return ErrTransient
	default:
		return ErrTransient
	}
}
