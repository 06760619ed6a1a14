// Package errors provides custom error types for the agent gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeValidationError = "VALIDATION_ERROR"

	ErrCodeDuplicateName  = "DUPLICATE_NAME"
	ErrCodeAgentDisabled  = "AGENT_DISABLED"
	ErrCodePortInUse      = "PORT_IN_USE"
	ErrCodeStartupTimeout = "STARTUP_TIMEOUT"
	ErrCodeUnreachable    = "UNREACHABLE"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeProtocolError  = "PROTOCOL_ERROR"
	ErrCodeBackendError   = "BACKEND_ERROR"
	ErrCodeCancelled      = "CANCELLED"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// DuplicateName creates an error for registering an agent name that already exists.
func DuplicateName(name string) *AppError {
	return &AppError{
		Code:       ErrCodeDuplicateName,
		Message:    fmt.Sprintf("agent '%s' already exists", name),
		HTTPStatus: http.StatusConflict,
	}
}

// AgentDisabled creates an error for dispatching to a disabled agent.
func AgentDisabled(name string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentDisabled,
		Message:    fmt.Sprintf("agent '%s' is disabled", name),
		HTTPStatus: http.StatusConflict,
	}
}

// PortInUse creates an error for a configured port held by an unrelated process.
func PortInUse(port int) *AppError {
	return &AppError{
		Code:       ErrCodePortInUse,
		Message:    fmt.Sprintf("port %d is already in use", port),
		HTTPStatus: http.StatusConflict,
	}
}

// StartupTimeout creates an error for a local agent that never became healthy.
func StartupTimeout(name string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStartupTimeout,
		Message:    fmt.Sprintf("agent '%s' did not become healthy before the startup deadline", name),
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// Unreachable creates an error for a backend that could not be contacted.
func Unreachable(target string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeUnreachable,
		Message:    fmt.Sprintf("backend '%s' is unreachable", target),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Timeout creates an error for an operation that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// ProtocolError creates an error for a malformed backend payload.
func ProtocolError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeProtocolError,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// BackendError creates an error for a well-formed backend failure response.
func BackendError(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBackendError,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
	}
}

// Cancelled creates an error for a run terminated at the caller's request.
func Cancelled(runID string) *AppError {
	return &AppError{
		Code:       ErrCodeCancelled,
		Message:    fmt.Sprintf("run '%s' was cancelled", runID),
		HTTPStatus: http.StatusConflict,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Code returns the application error code, or INTERNAL_ERROR for plain errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// IsDuplicateName checks if the error is a duplicate name error.
func IsDuplicateName(err error) bool {
	return Code(err) == ErrCodeDuplicateName
}

// IsAgentDisabled checks if the error is a disabled agent error.
func IsAgentDisabled(err error) bool {
	return Code(err) == ErrCodeAgentDisabled
}

// IsPortInUse checks if the error is a port conflict error.
func IsPortInUse(err error) bool {
	return Code(err) == ErrCodePortInUse
}

// IsStartupTimeout checks if the error is a startup timeout error.
func IsStartupTimeout(err error) bool {
	return Code(err) == ErrCodeStartupTimeout
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
