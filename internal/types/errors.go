package types

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUnsupportedOp   = errors.New("unsupported op")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrFeatureDisabled = errors.New("feature disabled")
)

// ProviderError reports a vendor HTTP or payload failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigurationError signals that no usable provider or alias is configured.
// It is fatal at startup and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// IsProviderError reports whether err is, or wraps, a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsConfigurationError reports whether err is, or wraps, a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
