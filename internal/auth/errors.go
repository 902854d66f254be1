package auth

import "errors"

// Domain errors.
var (
	// ErrTokenInvalid is returned when a token fails signature, expiry or claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrUnknownRole is returned when minting a token for a role that does not exist.
	ErrUnknownRole = errors.New("auth: unknown role")

	// ErrEmptySecret is returned when no signing secret is configured.
	ErrEmptySecret = errors.New("auth: signing secret is empty")
)
