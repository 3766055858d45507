// Package errkind tags errors with the failure class that decides how a
// request is answered. Status codes come from the kind, never from message text.
package errkind

import (
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	// Unauthenticated means the credential is missing, malformed, forged or expired.
	Unauthenticated
	// InvalidRequest means required request fields are missing.
	InvalidRequest
	// Storage means the message store was unreachable or rejected a write.
	Storage
	// Generation means the generation backend failed or produced nothing.
	Generation
	// RateLimited means the principal exceeded its request allowance.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case InvalidRequest:
		return "invalid_request"
	case Storage:
		return "storage"
	case Generation:
		return "generation"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind to the status code of a JSON error response.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case InvalidRequest:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	case Generation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is an error carrying a Kind. Msg is safe to show to clients; the
// wrapped cause is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with message msg.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with kind and annotates it with msg. Wrap returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Of returns the kind of the outermost tagged error in err's chain, or Unknown.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && Of(err) == kind
}

// Message returns the client-facing message of err. Untagged errors are
// reported generically so internal details stay in the logs.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Internal server error"
}
