package auth

import "errors"

// Authentication failures. All map to UNAUTHENTICATED / 401; the messages
// never confirm whether a key ID exists.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrInvalidKey       = errors.New("invalid API key")
)
