package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient marks a temporary failure that may succeed on retry,
	// such as a directory timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled marks rate limiting by the directory or cloud API.
	// Retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict marks a concurrent modification of the same record.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent marks a failure that retrying cannot fix: invalid
	// definitions, duplicate components, denied credentials.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes used across ironfleet packages.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"

	// ErrCodeResolution is attached to entities whose identity could not be
	// resolved from the definition hierarchy.
	ErrCodeResolution = "RESOLUTION_FAILED"

	// ErrCodeLookup is attached to remote directory failures other than a miss.
	ErrCodeLookup = "LOOKUP_FAILED"

	// ErrCodeSubservice is attached to failed sync phase calls.
	ErrCodeSubservice = "SUBSERVICE_FAILED"
)

// EngineError is a classified error carrying the machine and operation it
// occurred on.
// nolint:revive // the package name prefix distinguishes it from plain errors
type EngineError struct {
	// Class drives retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable summary.
	Message string `json:"message"`

	// Code is a stable identifier for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource names the machine, role or document involved.
	Resource string `json:"resource,omitempty"`

	// Operation names the phase or call in progress.
	Operation string `json:"operation,omitempty"`

	// Err is the wrapped cause.
	Err error `json:"-"`

	// Details holds extra context such as missing field names.
	Details map[string]interface{} `json:"details,omitempty"`
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewTransientError returns a retryable transient error.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

// NewThrottledError returns a retryable rate-limit error.
func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, message, err)
}

// NewConflictError returns a retryable conflict error.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, message, err)
}

// NewPermanentError returns a non-retryable error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, cause)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s): %s", e.Class, e.Message, e.Resource, cause)
	case e.Operation != "":
		return fmt.Sprintf("[%s] %s (operation=%s): %s", e.Class, e.Message, e.Operation, cause)
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, cause)
	}
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithResource sets the resource the error relates to.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation sets the operation in progress.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail records one detail value.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in err's chain, or an
// empty class when there is none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// CodeOf returns the code of the first EngineError in err's chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool { return ClassOf(err) == ErrorClassTransient }

// IsThrottled reports whether err is classified throttled.
func IsThrottled(err error) bool { return ClassOf(err) == ErrorClassThrottled }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return ClassOf(err) == ErrorClassConflict }

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool { return ClassOf(err) == ErrorClassPermanent }

// IsRetryable reports whether err is transient, throttled or a conflict.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
		return true
	default:
		return false
	}
}
