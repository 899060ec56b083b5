// Package errs defines the error kinds from the protocol's error-handling
// design: each wraps an underlying cause but its kind is distinguishable
// with this package's Is (an errors.As match on *Error), so callers can
// decide whether a failure is locally recoverable (FrameError,
// CryptoError), visible and ending that one connection (AuthError), or
// fatal to the process (ResourceError).
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the protocol design.
type Kind string

const (
	KindTransport Kind = "transport"
	KindFrame     Kind = "frame"
	KindCrypto    Kind = "crypto"
	KindAuth      Kind = "auth"
	KindTimeout   Kind = "timeout"
	KindState     Kind = "state"
	KindResource  Kind = "resource"
)

// Error is a kinded, wrapped error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

func Transport(op string, err error) *Error { return new_(KindTransport, op, err) }
func Frame(op string, err error) *Error     { return new_(KindFrame, op, err) }
func Crypto(op string, err error) *Error    { return new_(KindCrypto, op, err) }
func Auth(op string, err error) *Error      { return new_(KindAuth, op, err) }
func Timeout(op string, err error) *Error   { return new_(KindTimeout, op, err) }
func State(op string, err error) *Error     { return new_(KindState, op, err) }
func Resource(op string, err error) *Error  { return new_(KindResource, op, err) }

// Is reports whether err is an *Error of the given kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
