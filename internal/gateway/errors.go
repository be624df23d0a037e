package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/raaihank/medgateway/internal/credentials"
	"github.com/raaihank/medgateway/internal/provider"
)

var (
	// ErrNoActiveProvider is returned before Initialize succeeded.
	ErrNoActiveProvider = errors.New("no active provider")
	// ErrNoLocalProvider is returned when no local backend is configured.
	ErrNoLocalProvider = errors.New("no local provider configured")
)

// ValidationError reports an unusable request
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// ProbeError reports a failed connectivity check or warm-up
type ProbeError struct {
	Provider string
	Stage    string // check or warmup
	Message  string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Stage, e.Message)
}

// ErrorKind classifies err for callers, logs and audit entries.
func ErrorKind(err error) string {
	var (
		validation *ValidationError
		probe      *ProbeError
		status     *provider.StatusError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "validation"
	case errors.Is(err, provider.ErrNotConfigured),
		errors.Is(err, credentials.ErrNotFound),
		errors.Is(err, ErrNoActiveProvider),
		errors.Is(err, ErrNoLocalProvider):
		return "configuration"
	case errors.As(err, &probe), provider.IsConnectivity(err), errors.Is(err, context.DeadlineExceeded):
		return "connectivity"
	case errors.As(err, &status):
		return "provider"
	}
	return "internal"
}
