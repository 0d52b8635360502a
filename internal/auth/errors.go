package auth

import (
	stdErrors "errors"
)

var (
	// ErrTokenRequired is in the chain of errors returned for a request without a bearer token.
	ErrTokenRequired = stdErrors.New("authentication required")

	// ErrInsufficientScope is in the chain of errors returned for a session lacking required scopes.
	ErrInsufficientScope = stdErrors.New("insufficient scope")
)
