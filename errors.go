package chatclient

import (
	"errors"
	"fmt"
)

// Common errors for client operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")

	// ErrUnauthorized is returned when the bearer credential is missing or
	// rejected by the server. The presentation boundary routes this to the
	// login flow.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the server does not know the addressed
	// conversation.
	ErrNotFound = errors.New("conversation not found")

	// ErrTimeout is returned when a request exceeds its deadline. Send
	// requests are bounded because answer generation can take a long time.
	ErrTimeout = errors.New("request timed out")

	// ErrUnreachable is returned on transport-level failure (DNS,
	// connection refused, broken pipe).
	ErrUnreachable = errors.New("server unreachable")

	// ErrBusy is returned when an operation targets a conversation that
	// already has a request in flight. Callers should drop the request or
	// show a "still processing" cue, not queue it.
	ErrBusy = errors.New("conversation busy")
)

// ServerError is a non-2xx response whose error body could be decoded.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status %d", e.Status)
	}
	return fmt.Sprintf("server error: status %d: %s", e.Status, e.Message)
}

// ProtocolError is a response body that could not be decoded into the
// expected envelope, wrapped or bare.
type ProtocolError struct {
	Operation string
	Cause     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Operation, e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// IsUnauthorized reports whether err means a missing or rejected
// credential, so the boundary can route to login.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNotFound reports whether err means the server does not know the
// conversation.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTimeout reports whether err is a deadline hit.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsUnreachable reports whether err is a transport-level failure.
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }

// IsBusy reports whether err is the reject-with-no-op outcome of a
// concurrent request against the same conversation.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsServerError reports whether err carries a decodable non-2xx response.
func IsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsProtocolError reports whether err carries an undecodable response.
func IsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
