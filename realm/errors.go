package realm

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. Every error returned by the engine carries
// exactly one kind; callers test for it with errors.Is against the sentinels.
type Kind string

const (
	KindInvalidArgument      Kind = "INVALID_ARGUMENT"
	KindUnsupportedOperation Kind = "UNSUPPORTED_OPERATION"
	KindIllegalState         Kind = "ILLEGAL_STATE"
	KindPrimaryKey           Kind = "PRIMARY_KEY_CONSTRAINT"
	KindWrongThread          Kind = "WRONG_THREAD"
	KindUnknownType          Kind = "UNKNOWN_TYPE"
	KindSchema               Kind = "SCHEMA"
	KindIO                   Kind = "IO"
)

// Codes refine a kind when a caller needs to tell two failures apart.
const (
	CodeLinkListNull = "LINK_LIST_NULL"
	CodeClosed       = "CLOSED"
	CodeInvalidated  = "INVALIDATED"
)

// Error is the structured error type used throughout the engine.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Message string
	Cause   error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's kind, and its code when the
// target carries one. A wrong-thread error is also an illegal-state error and
// an unknown type is also an invalid argument.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	switch {
	case e.Kind == KindWrongThread && t.Kind == KindIllegalState:
		return t.Code == ""
	case e.Kind == KindUnknownType && t.Kind == KindInvalidArgument:
		return t.Code == ""
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation, Message: "unsupported operation"}
	ErrIllegalState         = &Error{Kind: KindIllegalState, Message: "illegal state"}
	ErrPrimaryKeyConstraint = &Error{Kind: KindPrimaryKey, Message: "primary key constraint violated"}
	ErrWrongThread          = &Error{Kind: KindWrongThread, Message: "accessed from a goroutine that does not own the handle"}
	ErrUnknownType          = &Error{Kind: KindUnknownType, Message: "unknown object type"}
	ErrSchema               = &Error{Kind: KindSchema, Message: "schema error"}
	ErrIO                   = &Error{Kind: KindIO, Message: "i/o error"}

	// ErrLinkListNull is returned for null tests against a LinkList column,
	// which is never null.
	ErrLinkListNull = &Error{Kind: KindInvalidArgument, Code: CodeLinkListNull, Message: "list columns cannot be null"}
	// ErrClosed is returned by every accessor of a closed realm.
	ErrClosed = &Error{Kind: KindIllegalState, Code: CodeClosed, Message: "realm is closed"}
)

// Errorf creates a new Error of the given kind.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(kind Kind, op string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WithCode returns a copy of the error carrying a refining code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// KindOf extracts the kind of an engine error, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
