// Package errors provides the application error type used at the HTTP boundary.
// Domain packages return their own typed errors; handlers translate them here.
package errors

import (
	"fmt"
	"net/http"
)

// Code represents an application error code.
type Code string

// Error codes for different error categories.
const (
	// Validation errors
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeMissingField  Code = "MISSING_FIELD"
	CodeInvalidFormat Code = "INVALID_FORMAT"

	// Resource errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// External service errors
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeTimeout         Code = "TIMEOUT"

	// Estimation errors
	CodeModelNotFound     Code = "MODEL_NOT_FOUND"
	CodeEstimationFailed  Code = "ESTIMATION_FAILED"
	CodeImportFailed      Code = "IMPORT_FAILED"
	CodeSessionNotAllowed Code = "INVALID_TRANSITION"

	// Internal errors
	CodeInternal Code = "INTERNAL_ERROR"
	CodeDatabase Code = "DATABASE_ERROR"
	CodeConfig   Code = "CONFIG_ERROR"
)

// Kind represents the kind of error for classification.
type Kind int

const (
	// KindUnknown is an unknown error kind.
	KindUnknown Kind = iota
	// KindUser indicates a user-caused error (bad input, missing widget).
	KindUser
	// KindSystem indicates a system error (database down, misconfigured provider).
	KindSystem
	// KindTransient indicates a temporary error that may succeed on retry.
	KindTransient
)

// Error is the base application error type.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Kind    Kind   `json:"-"`
	// Op is the operation being performed (e.g., "widget.Estimate").
	Op  string `json:"-"`
	Err error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidInput, CodeMissingField, CodeInvalidFormat, CodeImportFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeSessionNotAllowed:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService, CodeCircuitOpen, CodeModelNotFound, CodeEstimationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetriable returns true if the error may succeed on retry.
func (e *Error) IsRetriable() bool {
	return e.Kind == KindTransient
}

// IsUserError returns true if the error was caused by user input.
func (e *Error) IsUserError() bool {
	return e.Kind == KindUser
}

// ErrorResponse represents the JSON response for API errors.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error details in API responses.
// NeedsKey tells the widget to offer credential reselection; Retriable
// tells it the same request may succeed later.
type ErrorDetail struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	NeedsKey  bool   `json:"needs_key,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

// ToResponse converts an Error to an API response.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      e.Code,
			Message:   e.Message,
			NeedsKey:  e.Code == CodeModelNotFound,
			Retriable: e.IsRetriable(),
		},
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Kind:    kindForCode(code),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, op string, code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Kind:    kindForCode(code),
		Op:      op,
		Err:     err,
	}
}

func kindForCode(code Code) Kind {
	switch code {
	case CodeValidation, CodeInvalidInput, CodeMissingField, CodeInvalidFormat, CodeImportFailed:
		return KindUser
	case CodeNotFound, CodeConflict, CodeSessionNotAllowed:
		return KindUser
	case CodeRateLimited, CodeTimeout, CodeCircuitOpen, CodeExternalService:
		return KindTransient
	default:
		return KindSystem
	}
}

// ErrRateLimited is the response for a client over its request budget.
var ErrRateLimited = New(CodeRateLimited, "Too many requests. Please try again shortly.")

// NotFound creates a not found error for a specific resource.
func NotFound(resource string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Kind:    KindUser,
	}
}

// ValidationFailed creates a validation error with details.
func ValidationFailed(message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: message,
		Kind:    KindUser,
	}
}

// MissingField creates a missing field validation error.
func MissingField(field string) *Error {
	return &Error{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Kind:    KindUser,
	}
}

// DatabaseError creates a database error with the underlying cause.
func DatabaseError(op string, err error) *Error {
	return &Error{
		Code:    CodeDatabase,
		Message: "database operation failed",
		Kind:    KindSystem,
		Op:      op,
		Err:     err,
	}
}

// ModelNotFound reports a provider model or key that the operator must reselect.
func ModelNotFound(message string, err error) *Error {
	if message == "" {
		message = "the AI model or API key is not available; reselect your credentials"
	}
	return &Error{
		Code:    CodeModelNotFound,
		Message: message,
		Kind:    KindSystem,
		Err:     err,
	}
}

// EstimationFailed wraps a terminal estimate failure. The message is shown to the customer.
func EstimationFailed(message string, err error) *Error {
	return &Error{
		Code:    CodeEstimationFailed,
		Message: message,
		Kind:    KindSystem,
		Err:     err,
	}
}

// ImportFailed wraps a price list import failure with a user-facing cause.
func ImportFailed(message string, err error) *Error {
	return &Error{
		Code:    CodeImportFailed,
		Message: message,
		Kind:    KindUser,
		Err:     err,
	}
}

// InvalidTransition reports a widget session event not allowed in its current state.
func InvalidTransition(message string) *Error {
	return &Error{
		Code:    CodeSessionNotAllowed,
		Message: message,
		Kind:    KindUser,
	}
}

// InternalError creates a generic internal error.
func InternalError(message string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Kind:    KindSystem,
		Err:     err,
	}
}
