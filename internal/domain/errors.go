package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline. Provider plumbing wraps these with %w so
// callers classify with errors.Is.
var (
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrContextOverflow  = fmt.Errorf("context window exceeded")
	ErrServer           = fmt.Errorf("server error")
	ErrNetwork          = fmt.Errorf("network error")
	ErrProviderNotFound = fmt.Errorf("provider not found")
	ErrCancelled        = fmt.Errorf("request cancelled")
)

// IsRetryableError reports whether err may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrServer) ||
		errors.Is(err, ErrNetwork)
}

// IsCancellation reports whether err is a cancellation outcome rather than a
// failure. Cancellation always wins over retry and is never surfaced as an
// AIError.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// AIErrorType is the normalized error taxonomy surfaced to the host.
type AIErrorType string

const (
	AIErrInvalidAPIKey   AIErrorType = "invalid_api_key"
	AIErrRateLimit       AIErrorType = "rate_limit"
	AIErrNetwork         AIErrorType = "network_error"
	AIErrServer          AIErrorType = "server_error"
	AIErrContextExceeded AIErrorType = "context_exceeded"
	AIErrUnknown         AIErrorType = "unknown"
)

// AIError is a provider error normalized at the client boundary.
type AIError struct {
	Type      AIErrorType `json:"type"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Provider  string      `json:"provider"`
}

func (e *AIError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Type)
}

// NormalizeError maps a raw provider error onto the AIError taxonomy.
func NormalizeError(provider string, err error) *AIError {
	if err == nil {
		return nil
	}

	var ae *AIError
	if errors.As(err, &ae) {
		return ae
	}

	out := &AIError{Message: err.Error(), Provider: provider}
	switch {
	case errors.Is(err, ErrAuthInvalid):
		out.Type = AIErrInvalidAPIKey
	case errors.Is(err, ErrRateLimit):
		out.Type, out.Retryable = AIErrRateLimit, true
	case errors.Is(err, ErrContextOverflow):
		out.Type = AIErrContextExceeded
	case errors.Is(err, ErrServer):
		out.Type, out.Retryable = AIErrServer, true
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		out.Type, out.Retryable = AIErrNetwork, true
	default:
		out.Type = AIErrUnknown
	}
	return out
}
