package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a domain failure so callers can handle every case.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindProvider
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindProvider:
		return "provider"
	case KindSecurity:
		return "security"
	default:
		return "internal"
	}
}

// DomainError is the failure variant returned by engine operations.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches on Code so wrapped copies of a sentinel still compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a DomainError.
func New(kind Kind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a copy of a sentinel DomainError.
func Wrap(base *DomainError, err error) *DomainError {
	return &DomainError{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: err}
}

// WithMessage returns a copy of base carrying a more specific message.
func WithMessage(base *DomainError, format string, args ...any) *DomainError {
	return &DomainError{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err, KindInternal when err is not a DomainError.
func KindOf(err error) Kind {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
