package api

// ErrorType represents the classification of errors returned via HTTP headers.
type ErrorType string

// HeaderErrorType is the HTTP header key which should be used to convey API error types.
const HeaderErrorType = "Mcpshield-Error-Type"

const (
	// AuthenticationFailure indicates the bearer token was missing or invalid.
	AuthenticationFailure ErrorType = "authentication-failure"

	// ScopeFailure indicates the token lacks the scope the route requires.
	ScopeFailure ErrorType = "insufficient-scope"

	// RateLimited indicates the caller exceeded its request budget.
	RateLimited ErrorType = "rate-limited"

	// RequestRejected indicates the gateway refused the request before it reached a server.
	RequestRejected ErrorType = "request-rejected"
)
