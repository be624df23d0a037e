package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned when a backend lacks the credential it needs.
var ErrNotConfigured = errors.New("provider is not configured")

// ConnectivityError wraps transport failures: refused connections, DNS
// errors and timeouts.
type ConnectivityError struct {
	Provider string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Provider, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StatusError is a non-success answer from a reachable backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// statusMessage maps well-known statuses to an actionable message.
func statusMessage(provider string, code int, detail string) string {
	var msg string
	switch {
	case code == http.StatusUnauthorized:
		msg = "invalid API key"
	case code == http.StatusTooManyRequests:
		msg = "quota exceeded or too many requests"
	case code == http.StatusNotFound:
		msg = "model or endpoint not found"
	case code >= 500:
		msg = provider + " server error"
	default:
		msg = http.StatusText(code)
	}
	if detail != "" {
		msg += ": " + detail
	}
	return msg
}

// IsConnectivity reports whether err is a transport failure
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
