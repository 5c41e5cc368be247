// Package errors provides structured error types for sockpool.
//
// This package provides:
//   - Sentinel errors shared by the pool, the transports and the service layer
//   - Error codes for categorizing connect failures
//   - Error wrapping with context preservation
//   - Classification of raw network errors into sentinels
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error codes for categorizing errors. Negative values are failures; zero is
// reserved for success so a code can be logged next to a completion result.
const (
	CodeOK = 0

	CodeFailed             = -1  // Unclassified failure
	CodeAborted            = -2  // Attempt was cancelled by its owner
	CodeInvalidArgument    = -3  // Caller supplied an unusable value
	CodeTimeout            = -4  // Operation timed out
	CodeRateLimited        = -5  // Connect attempt throttled
	CodeUnavailable        = -6  // Destination marked unavailable
	CodeClosed             = -7  // Pool or resource closed
	CodeState              = -8  // Invalid state
	CodeConnection         = -10 // Generic connection error
	CodeConnectionRefused  = -11 // Peer refused the connection
	CodeConnectionReset    = -12 // Peer reset the connection
	CodeAddressUnreachable = -13 // No route to the destination
	CodeNameNotResolved    = -14 // Host name could not be resolved
	CodeProxyFailed        = -15 // SOCKS/I2P bridge handshake failed
	CodeTLSHandshake       = -16 // TLS handshake failed
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates a destination is unavailable.
	ErrUnavailable = errors.New("destination unavailable")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrAborted indicates an operation was cancelled before it finished.
	ErrAborted = errors.New("aborted")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Pool errors
var (
	// ErrPoolClosed is delivered to requests that were still queued when the pool closed.
	ErrPoolClosed = fmt.Errorf("pool: %w", ErrClosed)

	// ErrUnknownRequest indicates a handle has no outstanding request in the pool.
	ErrUnknownRequest = fmt.Errorf("pool: request %w", ErrNotFound)

	// ErrHandleInUse indicates Init was called on a handle that is already in use.
	ErrHandleInUse = fmt.Errorf("pool: handle already initialized: %w", ErrInvalidState)
)

// Transport errors
var (
	// ErrUnsupportedDestination indicates the factory cannot build a job for a destination.
	ErrUnsupportedDestination = fmt.Errorf("transport: unsupported destination: %w", ErrInvalidInput)

	// ErrConnectionRefused indicates the peer refused the connection.
	ErrConnectionRefused = fmt.Errorf("transport: connection refused: %w", ErrConnection)

	// ErrConnectionReset indicates the peer reset the connection.
	ErrConnectionReset = fmt.Errorf("transport: connection reset: %w", ErrConnection)

	// ErrAddressUnreachable indicates there is no route to the destination.
	ErrAddressUnreachable = fmt.Errorf("transport: address unreachable: %w", ErrConnection)

	// ErrNameNotResolved indicates the destination host could not be resolved.
	ErrNameNotResolved = fmt.Errorf("transport: name not resolved: %w", ErrConnection)

	// ErrProxyFailed indicates a SOCKS or SAM bridge handshake failed.
	ErrProxyFailed = fmt.Errorf("transport: proxy handshake failed: %w", ErrConnection)

	// ErrTLSHandshake indicates the TLS handshake failed.
	ErrTLSHandshake = fmt.Errorf("transport: tls handshake failed: %w", ErrConnection)
)

// Error is a structured error with a code and safe message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a short description of what failed
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// It automatically assigns an appropriate error code based on the error type.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    Code(err),
		Message: err.Error(),
		Err:     err,
	}
}

// Code maps an error to its category code. A nil error maps to CodeOK.
func Code(err error) int {
	var coded *Error
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &coded):
		return coded.Code
	case errors.Is(err, ErrConnectionRefused):
		return CodeConnectionRefused
	case errors.Is(err, ErrConnectionReset):
		return CodeConnectionReset
	case errors.Is(err, ErrAddressUnreachable):
		return CodeAddressUnreachable
	case errors.Is(err, ErrNameNotResolved):
		return CodeNameNotResolved
	case errors.Is(err, ErrProxyFailed):
		return CodeProxyFailed
	case errors.Is(err, ErrTLSHandshake):
		return CodeTLSHandshake
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrAborted):
		return CodeAborted
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidArgument
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrConnection):
		return CodeConnection
	default:
		return CodeFailed
	}
}

// ClassifyNetError maps a raw error returned by a dialer onto the transport
// sentinels, keeping the original error in the chain. Errors that are already
// classified are returned unchanged.
func ClassifyNetError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrAborted) {
		return err
	}

	var sentinel error
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		sentinel = ErrAborted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		sentinel = ErrTimeout
	case errors.As(err, &dnsErr):
		sentinel = ErrNameNotResolved
	case errors.Is(err, syscall.ECONNREFUSED):
		sentinel = ErrConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		sentinel = ErrConnectionReset
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		sentinel = ErrAddressUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		sentinel = ErrTimeout
	default:
		sentinel = ErrConnection
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// IsNotFound returns true if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable returns true if the destination was rejected as unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrCircuitOpen)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInvalidState returns true if the error indicates an invalid state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsConnection returns true for any transport-level connect failure.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
