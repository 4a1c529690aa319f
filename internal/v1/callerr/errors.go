// Package callerr defines the error kinds surfaced by call handlers.
//
// Handlers wrap a kind with a user-visible message:
//
//	return callerr.New(callerr.ErrNotFound, "Call not found")
//
// and the dispatch boundary turns it into a call-error event with PublicMessage.
package callerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidSignal = errors.New("invalid signal")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("conflict")
	ErrInternal      = errors.New("internal error")
)

// InternalMessage is what clients see for anything outside the taxonomy.
const InternalMessage = "Internal server error"

// Error pairs an error kind with the message shown to the acting client.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New returns an *Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The cause is kept for logs but never shown.
func Internal(cause error) error {
	return fmt.Errorf("%w: %w", ErrInternal, cause)
}

// PublicMessage returns the text that may be sent to a client for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && !errors.Is(e.Kind, ErrInternal) {
		return e.Msg
	}
	return InternalMessage
}

// Kind reports the taxonomy label of err for metrics and log levels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidSignal):
		return "invalid_signal"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// IsInternal reports whether err falls outside the client-facing taxonomy.
func IsInternal(err error) bool {
	return Kind(err) == "internal"
}
