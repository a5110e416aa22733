package utils

import (
	"errors"
	"fmt"
)

// Kind classifies the errors the core surfaces. Callers branch on the kind,
// not the message.
type Kind int

const (
	// KindInternal is an unexpected failure (serialization, I/O, store
	// transaction). Surfaced with its source chain; never retried.
	KindInternal Kind = iota
	// KindInvalidState means the caller violated a precondition.
	KindInvalidState
	// KindNotFound means a referenced entity is absent.
	KindNotFound
	// KindConstraintViolation is a store uniqueness or foreign-key failure.
	KindConstraintViolation
	// KindNetworkSend means a handler could not deliver a message; the
	// payload travels back with the error so it can be re-queued.
	KindNetworkSend
	// KindProtocol is a transport or authorization protocol violation; the
	// connection is closed.
	KindProtocol
	// KindUnauthorized means the remote refused protocol negotiation or an
	// authorization request.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid state"
	case KindNotFound:
		return "not found"
	case KindConstraintViolation:
		return "constraint violation"
	case KindNetworkSend:
		return "network send"
	case KindProtocol:
		return "protocol error"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal error"
	}
}

// Error is the typed error returned across package boundaries.
type Error struct {
	kind Kind
	msg  string
	src  error
}

func (e *Error) Error() string {
	if e.src != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.src)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.src }

func (e *Error) Kind() Kind { return e.kind }

func NewError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Errorf(kind Kind, format string, a ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...)}
}

// WrapError attaches a source error, preserving the chain for errors.Is/As.
func WrapError(kind Kind, src error, msg string) *Error {
	return &Error{kind: kind, msg: msg, src: src}
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool { return hasKind(err, KindInvalidState) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsConstraintViolation reports whether err is a store constraint failure.
func IsConstraintViolation(err error) bool { return hasKind(err, KindConstraintViolation) }

func hasKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == k
}

// NetworkSendError carries the undelivered payload back to the sender.
type NetworkSendError struct {
	Recipient string
	Payload   []byte
}

func (e *NetworkSendError) Error() string {
	return fmt.Sprintf("unable to send %d bytes to %s", len(e.Payload), e.Recipient)
}
