package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error kinds. Every error a Backend returns wraps exactly one of these.
var (
	ErrTransport      = errors.New("transport error")
	ErrRateLimit      = errors.New("rate limited")
	ErrTimeout        = errors.New("request timed out")
	ErrAuthentication = errors.New("authentication failed")
	ErrBadRequest     = errors.New("request rejected")
)

// OracleError carries the error kind, the provider and, when known, the
// HTTP status.
type OracleError struct {
	Kind       error
	Provider   string
	StatusCode int
	Err        error
}

func (e *OracleError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OracleError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, provider string, status int, err error) *OracleError {
	return &OracleError{Kind: kind, Provider: provider, StatusCode: status, Err: err}
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// IsFatal reports errors that must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// KindName is the short label used in logs and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(provider string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return newError(ErrRateLimit, provider, status, err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return newError(ErrAuthentication, provider, status, err)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return newError(ErrTimeout, provider, status, err)
	case status >= 500:
		return newError(ErrTransport, provider, status, err)
	case status >= 400:
		return newError(ErrBadRequest, provider, status, err)
	default:
		return classifyTransport(provider, err)
	}
}

// classifyTransport handles errors raised before any HTTP status was seen.
func classifyTransport(provider string, err error) error {
	var oe *OracleError
	if errors.As(err, &oe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTimeout, provider, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrTimeout, provider, 0, err)
	}
	return newError(ErrTransport, provider, 0, err)
}
