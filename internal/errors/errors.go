// Package errors defines domain-level errors used throughout the application.
// These errors represent failures in the proxy and are mapped to appropriate HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new Kind here, you MUST consider how it should be handled when returned from API endpoints.
//
// Unmapped errors will default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your kind to Kind.HTTPStatus and Kind.Code
// 2. Add a test case to TestKind_HTTPStatus (internal/errors/errors_test.go)
// 3. Consider if the daemon handler tests need updates
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind int

const (
	// KindInternal is an unexpected internal failure.
	// Maps to HTTP 500 Internal Server Error.
	KindInternal Kind = iota

	// KindServerNotFound indicates that the requested MCP server does not exist, or no healthy server could serve
	// the request.
	// Maps to HTTP 404 Not Found.
	KindServerNotFound

	// KindSandbox indicates that a child process could not be launched inside its sandbox.
	// Maps to HTTP 500 Internal Server Error.
	KindSandbox

	// KindTransport indicates that communication with a child failed (connection loss, closed pipe, bad status).
	// Maps to HTTP 502 Bad Gateway.
	KindTransport

	// KindAuthentication indicates that the caller could not be authenticated.
	// Maps to HTTP 401 Unauthorized.
	KindAuthentication

	// KindAuthorization indicates that an authenticated caller is not allowed to perform the operation.
	// Maps to HTTP 403 Forbidden.
	KindAuthorization

	// KindConfig indicates invalid configuration.
	// Maps to HTTP 500 Internal Server Error.
	KindConfig

	// KindTimeout indicates that an operation did not complete in time.
	// Maps to HTTP 504 Gateway Timeout.
	KindTimeout

	// KindInvalidRequest indicates that the client provided invalid input.
	// Maps to HTTP 400 Bad Request.
	KindInvalidRequest

	// KindIO indicates a local I/O failure (files, pipes owned by the proxy).
	// Maps to HTTP 500 Internal Server Error.
	KindIO

	// KindSerialization indicates a malformed message that could not be encoded or decoded.
	// Maps to HTTP 500 Internal Server Error.
	KindSerialization

	// KindInstall indicates a failure installing an MCP server package.
	// Maps to HTTP 500 Internal Server Error.
	KindInstall
)

var (
	// ErrServerNotFound is the sentinel matched by errors.Is for KindServerNotFound.
	ErrServerNotFound = errors.New("server not found")

	// ErrSandbox is the sentinel matched by errors.Is for KindSandbox.
	ErrSandbox = errors.New("sandbox error")

	// ErrTransport is the sentinel matched by errors.Is for KindTransport.
	ErrTransport = errors.New("transport error")

	// ErrAuthentication is the sentinel matched by errors.Is for KindAuthentication.
	ErrAuthentication = errors.New("authentication error")

	// ErrAuthorization is the sentinel matched by errors.Is for KindAuthorization.
	ErrAuthorization = errors.New("authorization error")

	// ErrConfig is the sentinel matched by errors.Is for KindConfig.
	ErrConfig = errors.New("configuration error")

	// ErrTimeout is the sentinel matched by errors.Is for KindTimeout.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidRequest is the sentinel matched by errors.Is for KindInvalidRequest.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInternal is the sentinel matched by errors.Is for KindInternal.
	ErrInternal = errors.New("internal error")

	// ErrIO is the sentinel matched by errors.Is for KindIO.
	ErrIO = errors.New("io error")

	// ErrSerialization is the sentinel matched by errors.Is for KindSerialization.
	ErrSerialization = errors.New("serialization error")

	// ErrInstall is the sentinel matched by errors.Is for KindInstall.
	ErrInstall = errors.New("install error")
)

// Error is the typed error carried across the proxy.
// Use the constructor helpers (ServerNotFound, Transport, Timeout, ...) to create instances.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Message is the human-readable text.
	Message string

	// TimeoutMS is populated for KindTimeout.
	TimeoutMS int64

	// Err is an optional wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == KindTimeout {
		msg := fmt.Sprintf("timeout after %dms", e.TimeoutMS)
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}

	msg := e.Kind.label()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the wrapped cause (if any).
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind,
// or another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}

	return target == e.Kind.sentinel()
}

// Code returns the wire code for the error, e.g. SERVER_NOT_FOUND.
func (e *Error) Code() string {
	return e.Kind.Code()
}

// HTTPStatus returns the HTTP status code the error maps to.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// Code returns the wire code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindServerNotFound:
		return "SERVER_NOT_FOUND"
	case KindSandbox:
		return "SANDBOX_ERROR"
	case KindTransport:
		return "TRANSPORT_ERROR"
	case KindAuthentication:
		return "AUTHENTICATION_ERROR"
	case KindAuthorization:
		return "AUTHORIZATION_ERROR"
	case KindConfig:
		return "CONFIG_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindIO:
		return "IO_ERROR"
	case KindSerialization:
		return "SERIALIZATION_ERROR"
	case KindInstall:
		return "INSTALL_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus returns the HTTP status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindServerNotFound:
		return http.StatusNotFound
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) label() string {
	switch k {
	case KindServerNotFound:
		return "server not found"
	case KindSandbox:
		return "sandbox error"
	case KindTransport:
		return "transport error"
	case KindAuthentication:
		return "authentication failed"
	case KindAuthorization:
		return "authorization failed"
	case KindConfig:
		return "configuration error"
	case KindInvalidRequest:
		return "invalid request"
	case KindIO:
		return "io error"
	case KindSerialization:
		return "serialization error"
	case KindInstall:
		return "install error"
	default:
		return "internal error"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindServerNotFound:
		return ErrServerNotFound
	case KindSandbox:
		return ErrSandbox
	case KindTransport:
		return ErrTransport
	case KindAuthentication:
		return ErrAuthentication
	case KindAuthorization:
		return ErrAuthorization
	case KindConfig:
		return ErrConfig
	case KindTimeout:
		return ErrTimeout
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindIO:
		return ErrIO
	case KindSerialization:
		return ErrSerialization
	case KindInstall:
		return ErrInstall
	default:
		return ErrInternal
	}
}

// KindOf returns the Kind of err, walking the wrap chain.
// Errors that carry no Kind are classified as KindInternal, except bare sentinels which map to their kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	for _, k := range allKinds {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}

	return KindInternal
}

var allKinds = []Kind{
	KindServerNotFound,
	KindSandbox,
	KindTransport,
	KindAuthentication,
	KindAuthorization,
	KindConfig,
	KindTimeout,
	KindInvalidRequest,
	KindIO,
	KindSerialization,
	KindInstall,
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ServerNotFound creates a KindServerNotFound error.
func ServerNotFound(format string, args ...any) *Error {
	return newError(KindServerNotFound, format, args...)
}

// Sandbox creates a KindSandbox error.
func Sandbox(format string, args ...any) *Error {
	return newError(KindSandbox, format, args...)
}

// Transport creates a KindTransport error.
func Transport(format string, args ...any) *Error {
	return newError(KindTransport, format, args...)
}

// Authentication creates a KindAuthentication error.
func Authentication(format string, args ...any) *Error {
	return newError(KindAuthentication, format, args...)
}

// Authorization creates a KindAuthorization error.
func Authorization(format string, args ...any) *Error {
	return newError(KindAuthorization, format, args...)
}

// Config creates a KindConfig error.
func Config(format string, args ...any) *Error {
	return newError(KindConfig, format, args...)
}

// InvalidRequest creates a KindInvalidRequest error.
func InvalidRequest(format string, args ...any) *Error {
	return newError(KindInvalidRequest, format, args...)
}

// Internal creates a KindInternal error.
func Internal(format string, args ...any) *Error {
	return newError(KindInternal, format, args...)
}

// Serialization creates a KindSerialization error.
func Serialization(format string, args ...any) *Error {
	return newError(KindSerialization, format, args...)
}

// Install creates a KindInstall error.
func Install(format string, args ...any) *Error {
	return newError(KindInstall, format, args...)
}

// Timeout creates a KindTimeout error for the given duration in milliseconds.
func Timeout(ms int64) *Error {
	return &Error{Kind: KindTimeout, TimeoutMS: ms}
}

// IO wraps a local I/O failure.
func IO(err error) *Error {
	return &Error{Kind: KindIO, Err: err}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	e := newError(kind, format, args...)
	e.Err = err
	return e
}
