package interview

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle failure. The HTTP layer maps kinds to status codes.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindInvalidTransition
	KindPermission
	KindConflict
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

const (
	MsgFieldsRequired    = "All fields are required!"
	MsgNotFound          = "Session Not Found"
	MsgJoinCompleted     = "Cannot join a completed session"
	MsgHostJoin          = "Host cannot join their own session as participant"
	MsgSessionFull       = "Session is full!"
	MsgNotReady          = "Session is not ready to join yet"
	MsgNotHost           = "Only the Host can end the Session"
	MsgAlreadyCompleted  = "Session is already completed"
	MsgSessionEnded      = "Session ended successfully"
	MsgDependencyFailure = "Internal Server Error"
)

// Error is returned by every Service operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrPermission        = &Error{Kind: KindPermission}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrDependency        = &Error{Kind: KindDependency}
)

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func dependency(cause error) *Error {
	return &Error{Kind: KindDependency, Message: MsgDependencyFailure, Cause: cause}
}
