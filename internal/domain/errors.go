package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is an error that knows which HTTP status it maps to.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors, use with errors.Is()
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("already exists")
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrEventClosed    = errors.New("event is closed")
	ErrPasswordChange = errors.New("password change required")
)

type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Resource string
		ID       interface{}
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
		Err     error
	}

	// ConflictError indicates a uniqueness or state conflict
	ConflictError struct {
		Message string
		Reason  error
	}

	// ForbiddenError indicates an authenticated user lacks the right
	ForbiddenError struct {
		Message string
		Reason  error
	}
)

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

func (e *ValidationError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConflictError) Error() string  { return e.Message }
func (e *ForbiddenError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *ConflictError) StatusCode() int   { return http.StatusConflict }
func (e *ForbiddenError) StatusCode() int  { return http.StatusForbidden }

func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || (e.Reason != nil && target == e.Reason)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden || (e.Reason != nil && target == e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFound builds a NotFoundError.
func NotFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// Invalid wraps a validation failure.
func Invalid(err error) error {
	return &ValidationError{Err: err}
}

// Invalidf builds a validation failure from a message.
func Invalidf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError.
func Conflict(message string) error {
	return &ConflictError{Message: message}
}

// Closed is returned for writes against a closed event.
func Closed(eventID int) error {
	return &ConflictError{
		Message: fmt.Sprintf("event %d is closed", eventID),
		Reason:  ErrEventClosed,
	}
}

// Forbidden builds a ForbiddenError.
func Forbidden(message string) error {
	return &ForbiddenError{Message: message}
}

// PasswordChangeRequired blocks every route but the password change.
func PasswordChangeRequired() error {
	return &ForbiddenError{Message: "password change required", Reason: ErrPasswordChange}
}

// StatusCode returns the HTTP status for err, 500 for anything unknown.
func StatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrEventClosed):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
