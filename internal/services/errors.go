package services

import (
	"errors"
	"fmt"
	"math"
)

// ErrorKind classifies a service error so the HTTP layer can map it to a status
type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
)

// Error is a domain error carrying a client-safe message
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

// ValidationError reports malformed input. details maps field names to problems.
func ValidationError(message string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// FieldError is a ValidationError for a single field
func FieldError(field, problem string) *Error {
	return ValidationError(fmt.Sprintf("%s: %s", field, problem), map[string]string{field: problem})
}

// NotFoundError reports a missing entity
func NotFoundError(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// ConflictError reports a uniqueness violation
func ConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// KindOf extracts the ErrorKind from err, if it is a service Error
func KindOf(err error) (ErrorKind, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind, true
	}
	return "", false
}

// AsError unwraps err into a service Error
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// Page is a 1-based page request
type Page struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for the page. It saturates at math.MaxInt32
// instead of wrapping, so an absurd page reads past the end of the table.
func (p Page) Offset() int {
	if p.Page < 1 || p.PageSize < 1 {
		return 0
	}
	if p.Page-1 > math.MaxInt32/p.PageSize {
		return math.MaxInt32
	}
	return (p.Page - 1) * p.PageSize
}
