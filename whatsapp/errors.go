package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
)

// Kind classifies a Channel Client failure for logging and alerting.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindUnknown    Kind = "unknown"
)

// ErrInvalidMessage is matched by every *ValidationError.
var ErrInvalidMessage = errors.New("whatsapp: invalid message")

// ValidationError is returned before any network call when an outbound
// message breaks a provider format limit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("whatsapp: invalid message: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidMessage }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Kind       Kind
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: api %s error (http %d, code %d): %s", e.Kind, e.StatusCode, e.Code, e.Message)
}

// TransportError is a request that never produced a provider response.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("whatsapp: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Provider error codes that signal throttling.
var rateLimitCodes = map[int]bool{
	4:      true, // application request limit
	80007:  true, // WABA rate limit
	130429: true, // throughput limit
	131048: true, // spam rate limit
	131056: true, // pair rate limit
}

// Provider error codes that signal a temporary provider fault.
var transientCodes = map[int]bool{
	1:      true, // unknown API error
	2:      true, // service temporarily unavailable
	131000: true, // something went wrong
	131016: true, // service unavailable
}

func classify(status, code int) Kind {
	switch {
	case code == 190 || code == 10 || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests || rateLimitCodes[code]:
		return KindRateLimit
	case status >= 500 || transientCodes[code]:
		return KindTransient
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// KindOf classifies any error returned by the Channel Client. It returns ""
// for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var open *connectivity.ErrCircuitOpen
	if errors.As(err, &open) {
		return KindTransient
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// Retryable reports whether a later attempt of the same send can succeed
// without changing the message: provider-side faults and throttling.
// Transport errors are excluded because the provider may have accepted the
// message before the connection failed.
func Retryable(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == KindTransient || ae.Kind == KindRateLimit
}
