package common

import (
	"errors"
	"fmt"
)

// ValidationError indicates a rejected request (bad input, missing field,
// disallowed file type). Handlers map it to HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with a formatted message
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParseError indicates an unreadable or corrupt document. Handlers map it
// to HTTP 400 at upload time and the file is not stored.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse %s: %v", e.Filename, e.Err)
	}
	return fmt.Sprintf("failed to parse %s", e.Filename)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps a document parsing failure
func NewParseError(filename string, err error) *ParseError {
	return &ParseError{Filename: filename, Err: err}
}

// ExternalServiceError indicates an embedding or LLM API failure after
// retries were exhausted. Handlers map it to HTTP 502.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service failed: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s service failed", e.Service)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError wraps a hosted API failure
func NewExternalServiceError(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}

// NotReadyError indicates an operation attempted before its prerequisites
// (chat or scores before processing). Handlers return HTTP 200 with a
// success=false payload so the UI can guide the user.
type NotReadyError struct {
	Message string
}

func (e *NotReadyError) Error() string {
	return e.Message
}

// NewNotReadyError creates a NotReadyError with a formatted message
func NewNotReadyError(format string, args ...interface{}) *NotReadyError {
	return &NotReadyError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsParseError reports whether err is a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsExternalServiceError reports whether err is an ExternalServiceError
func IsExternalServiceError(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

// IsNotReadyError reports whether err is a NotReadyError
func IsNotReadyError(err error) bool {
	var ne *NotReadyError
	return errors.As(err, &ne)
}
