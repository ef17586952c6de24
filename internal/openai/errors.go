package openai

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned when a client is used without an API key
// configured for its provider.
var ErrMissingCredential = errors.New("provider API key not configured")

// TransportError wraps a network-level failure reaching the provider.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError is a non-success or malformed response from the provider.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}
