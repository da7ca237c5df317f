package cloud

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	// KindNotFound means the addressed object does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindBadRequest means the provider rejected the request for the object's
	// current state.
	KindBadRequest ErrorKind = "bad_request"

	// KindTransport means the request did not get a usable answer.
	KindTransport ErrorKind = "transport"

	// KindUnknown is reported for errors that did not come from a provider.
	KindUnknown ErrorKind = "unknown"
)

// Error is a provider failure.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op is the provider operation that failed.
	Op string

	// ID is the object the operation addressed, if any.
	ID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.ID != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrBadRequest = &Error{Kind: KindBadRequest}
	ErrTransport  = &Error{Kind: KindTransport}
)

// NewNotFound reports that op found no object with the given id.
func NewNotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, ID: id}
}

// NewBadRequest reports that op was rejected.
func NewBadRequest(op, id string, err error) *Error {
	return &Error{Kind: KindBadRequest, Op: op, ID: id, Err: err}
}

// NewTransport reports that op failed in transit.
func NewTransport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// KindOf returns the kind of a provider error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Outcome is the result of a provider call as far as lifecycle code cares.
type Outcome int

const (
	// OutcomeSuccess means the call succeeded.
	OutcomeSuccess Outcome = iota
	// OutcomeNotFound means the object is absent.
	OutcomeNotFound
	// OutcomeFailure means any other error.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "failure"
	}
}

// Classify maps a provider call's error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailure
	}
}

// IgnorableDetachError reports whether a detach failure means the volume is
// already detached or detaching.
func IgnorableDetachError(err error) bool {
	return errors.Is(err, ErrBadRequest) || errors.Is(err, ErrNotFound)
}
