package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeBackendError    ErrorType = "backend_error"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// APIError is the error body returned to clients.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the top-level {"error": ...} wrapper.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func newError(t ErrorType, param, msg string) *APIError {
	return &APIError{Type: t, Param: param, Message: msg}
}

// NewInvalidRequestError reports a bad request field; param names the
// offending field, e.g. "dates[0]".
func NewInvalidRequestError(param, message string) *APIError {
	return newError(ErrorTypeInvalidRequest, param, message)
}

func NewNotFoundError(message string) *APIError {
	return newError(ErrorTypeNotFound, "", message)
}

func NewServerError(message string) *APIError {
	return newError(ErrorTypeServerError, "", message)
}

// NewBackendError reports a failure of the generation backend. It is
// never the caller's fault.
func NewBackendError(message string) *APIError {
	return newError(ErrorTypeBackendError, "", message)
}

func NewTooManyRequestsError(message string) *APIError {
	return newError(ErrorTypeTooManyRequests, "", message)
}

// FailureKind classifies the terminal failures of a query. Every other
// failure inside the pipeline has a silent recovery path.
type FailureKind string

const (
	FailureSandboxRejection FailureKind = "sandbox_rejection"
	FailureSandboxTimeout   FailureKind = "sandbox_timeout"
	FailureResourceExceeded FailureKind = "resource_exceeded"
	FailureExecutionError   FailureKind = "execution_error"
)
