package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/stacker/pkg/cloud"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates invalid input: bad templates, properties
	// or attribute names. Retrying without changing the input cannot succeed.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates the external object is in a state that does
	// not allow the requested operation, for example deleting an attached volume.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes for programmatic handling.
const (
	ErrCodeValidation       = "VALIDATION"
	ErrCodePrecondition     = "PRECONDITION"
	ErrCodeUnexpectedState  = "UNEXPECTED_STATE"
	ErrCodeInvalidAttribute = "INVALID_ATTRIBUTE"
	ErrCodeUpdateReplace    = "UPDATE_REPLACE"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeCycle            = "CYCLE"
	ErrCodeInternal         = "INTERNAL"
)

// Sentinels for errors.Is. Matching compares class and code only.
var (
	ErrConfiguration    = &EngineError{Class: ErrorClassValidation, Code: ErrCodeValidation}
	ErrPrecondition     = &EngineError{Class: ErrorClassConflict, Code: ErrCodePrecondition}
	ErrUnexpectedState  = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnexpectedState}
	ErrInvalidAttribute = &EngineError{Class: ErrorClassValidation, Code: ErrCodeInvalidAttribute}
	ErrInvalidState     = &EngineError{Class: ErrorClassConflict, Code: ErrCodeInvalidState}

	// ErrUpdateReplace is returned by HandleUpdate when the resource cannot be
	// changed in place and must be replaced.
	ErrUpdateReplace = &EngineError{
		Class:   ErrorClassConflict,
		Code:    ErrCodeUpdateReplace,
		Message: "resource must be replaced",
	}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Status is the unexpected external status, for UNEXPECTED_STATE errors.
	Status string `json:"status,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	switch {
	case e.Resource != "" && e.Operation != "":
		fmt.Fprintf(&b, " (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		fmt.Fprintf(&b, " (resource=%s)", e.Resource)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError reports invalid user input such as an unreadable
// template or bad properties.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewPreconditionError reports an operation refused because of the current
// state of the external object.
func NewPreconditionError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Code:    ErrCodePrecondition,
		Message: message,
	}
}

// NewUnexpectedStateError reports an external status outside the expected set.
func NewUnexpectedStateError(status string) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodeUnexpectedState,
		Message: fmt.Sprintf("unexpected status %q", status),
		Status:  status,
	}
}

// NewInvalidAttributeError reports a request for an attribute a resource does
// not provide.
func NewInvalidAttributeError(resource, key string) *EngineError {
	return &EngineError{
		Class:    ErrorClassValidation,
		Code:     ErrCodeInvalidAttribute,
		Message:  fmt.Sprintf("invalid attribute %s", key),
		Resource: resource,
	}
}

// NewInvalidStateError reports an operation that is not allowed in the
// current lifecycle state.
func NewInvalidStateError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Code:    ErrCodeInvalidState,
		Message: message,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in err's chain. Provider
// transport failures are transient and anything else is permanent.
func ClassOf(err error) ErrorClass {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Class
	}
	if cloud.KindOf(err) == cloud.KindTransport {
		return ErrorClassTransient
	}
	return ErrorClassPermanent
}

// CodeOf returns the code of the first EngineError in err's chain.
func CodeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) && ee.Code != "" {
		return ee.Code
	}
	return ErrCodeInternal
}

// IsValidation checks if an error is caused by invalid input.
func IsValidation(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Class == ErrorClassValidation
}
