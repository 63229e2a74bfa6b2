package auth

import "errors"

// APIKey is an accepted key and the caller it identifies.
type APIKey struct {
	Name    string
	Key     string
	Enabled bool
}

var (
	// ErrMissingKey is returned when a request carries no key.
	ErrMissingKey = errors.New("no API key found")

	// ErrInvalidKey is returned for keys that are not configured.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrKeyDisabled is returned for configured keys that are switched off.
	ErrKeyDisabled = errors.New("API key disabled")
)
