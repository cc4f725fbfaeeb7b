package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
)

// ErrorClass tells the orchestration layer whether re-running a pass may help.
// The engine itself never retries.
type ErrorClass string

const (
	// ErrorClassTransient covers server errors and timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled covers rate limiting.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict covers concurrent modification, duplicate names and
	// resources still in use.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent covers invalid manifests, unresolved references and
	// unknown kinds.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeUnknownKind         = "UNKNOWN_KIND"
	ErrCodeSchemaInference     = "SCHEMA_INFERENCE_FAILED"
	ErrCodePolicyDenied        = "POLICY_DENIED"
	ErrCodeLeaseHeld           = "LEASE_HELD"
	ErrCodeAPI                 = "API_ERROR"
)

// EngineError is a classified error naming the failing phase and resource.
// nolint:revive // the package prefix reads naturally at call sites
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`

	// Resource is "<kind>/<name>" of the failing resource, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the phase or mutation being performed.
	Operation string `json:"operation,omitempty"`

	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
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

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

// NewThrottledError creates a throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, message, err)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, message, err)
}

// NewPermanentError creates a permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// WithResource sets the failing resource.
func (e *EngineError) WithResource(r resources.Resource) *EngineError {
	e.Resource = fmt.Sprintf("%s/%s", r.Kind(), r.Name())
	return e
}

// WithOperation sets the failing phase or mutation.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// classify wraps err into an EngineError with a class and code derived from
// its type. Errors that already are EngineErrors are returned unchanged.
func classify(message string, err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}

	var refErr *resources.UnresolvedReferenceError
	if errors.As(err, &refErr) {
		return NewPermanentError(message, err).WithCode(ErrCodeUnresolvedReference)
	}
	var kindErr *resources.UnknownKindError
	if errors.As(err, &kindErr) {
		return NewPermanentError(message, err).WithCode(ErrCodeUnknownKind)
	}

	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return NewThrottledError(message, err).WithCode(ErrCodeRateLimited)
		case httpErr.StatusCode >= 500:
			return NewTransientError(message, err).WithCode(ErrCodeAPI)
		case httpErr.StatusCode == http.StatusConflict:
			return NewConflictError(message, err).WithCode(ErrCodeConflict)
		case httpErr.StatusCode == http.StatusNotFound:
			return NewPermanentError(message, err).WithCode(ErrCodeNotFound)
		default:
			return NewPermanentError(message, err).WithCode(ErrCodeAPI)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(message, err).WithCode(ErrCodeInternal)
	}
	return NewPermanentError(message, err).WithCode(ErrCodeInternal)
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }

// IsThrottled reports whether err is classified as throttled.
func IsThrottled(err error) bool { return hasClass(err, ErrorClassThrottled) }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return hasClass(err, ErrorClassConflict) }

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool { return hasClass(err, ErrorClassPermanent) }

// IsRetryable reports whether re-running the whole pass may succeed.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// HasCode reports whether err is an EngineError with code.
func HasCode(err error, code string) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == code
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == class
}
