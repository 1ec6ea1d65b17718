// Package errors classifies command and request failures so the HTTP
// surface and the push channel report them the same way.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pscheid92/picorelay/internal/domain"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates a malformed or incomplete command (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates an unknown route (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypePublish indicates the broker did not accept an outbound message (HTTP 500)
	TypePublish ErrorType = "publish"
	// TypeProcess indicates a worker failed to launch or exited non-zero (HTTP 500)
	TypeProcess ErrorType = "process"
	// TypeInternal indicates anything else (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the type to a status code. Every failure that is not the
// caller's fault is a 500.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// PublishError reports an outbound message the broker did not take.
func PublishError(topic string, cause error) *Error {
	return newError(TypePublish, "failed to publish message", cause).WithContext("topic", topic)
}

// ProcessError reports a worker run that did not succeed.
func ProcessError(worker string, cause error) *Error {
	return newError(TypeProcess, worker+" failed", cause).WithContext("worker", worker)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Detail is the message shown to clients: the cause text when there is
// one, since that is what an operator needs (exit status, stderr, broker
// reason).
func (e *Error) Detail() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// ErrorResponse is the JSON body for failed requests. Success is always
// false; it keeps the shape of the success bodies.
type ErrorResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Success: false,
		Error:   e.Detail(),
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// Known domain sentinels map to their category; anything else is internal.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	switch {
	case errors.Is(err, domain.ErrEmptyText),
		errors.Is(err, domain.ErrEmptyPrompt),
		errors.Is(err, domain.ErrUnknownCommand):
		return ValidationError(err.Error())
	case errors.Is(err, domain.ErrNotConnected):
		return newError(TypePublish, "failed to publish message", err)
	}

	return InternalError("internal server error", err)
}
