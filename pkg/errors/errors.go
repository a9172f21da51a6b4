// Package errors provides custom error types for the application.
// It defines domain-specific errors with error codes for better error handling
// and API responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

// Error codes for different error categories
const (
	// General errors (1xxx)
	ErrCodeInternal     ErrorCode = "E1000"
	ErrCodeValidation   ErrorCode = "E1001"
	ErrCodeNotFound     ErrorCode = "E1002"
	ErrCodeConflict     ErrorCode = "E1003"
	ErrCodeForbidden    ErrorCode = "E1004"
	ErrCodeUnauthorized ErrorCode = "E1005"

	// Forge errors (2xxx)
	ErrCodeForgeAuth       ErrorCode = "E2001"
	ErrCodeForgeNotFound   ErrorCode = "E2002"
	ErrCodeForgePermission ErrorCode = "E2003"
	ErrCodeForgeTooLarge   ErrorCode = "E2004"
	ErrCodeForgeTransport  ErrorCode = "E2005"

	// Git / worktree errors (3xxx)
	ErrCodeGitClone    ErrorCode = "E3001"
	ErrCodeGitFetch    ErrorCode = "E3002"
	ErrCodeGitWorktree ErrorCode = "E3003"
	ErrCodeGitDiff     ErrorCode = "E3004"

	// Review pipeline errors (4xxx)
	ErrCodeRunNotFound    ErrorCode = "E4001"
	ErrCodeRunFailed      ErrorCode = "E4002"
	ErrCodeStageTimeout   ErrorCode = "E4003"
	ErrCodeStageOutput    ErrorCode = "E4004"
	ErrCodeSchemaInvalid  ErrorCode = "E4005"
	ErrCodeRunSuperseded  ErrorCode = "E4006"

	// Database errors (5xxx)
	ErrCodeDBConnection ErrorCode = "E5001"
	ErrCodeDBQuery      ErrorCode = "E5002"
	ErrCodeDBMigration  ErrorCode = "E5003"

	// Configuration errors (6xxx)
	ErrCodeConfigNotFound ErrorCode = "E6001"
	ErrCodeConfigInvalid  ErrorCode = "E6002"
	ErrCodeConfigParse    ErrorCode = "E6003"

	// Indexing errors (7xxx)
	ErrCodeIndexParse ErrorCode = "E7001"
	ErrCodeEmbedding  ErrorCode = "E7002"
)

// AppError represents an application-level error with code and context
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	Details any       `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for the error
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeForgeNotFound, ErrCodeRunNotFound, ErrCodeConfigNotFound:
		return http.StatusNotFound
	case ErrCodeValidation, ErrCodeConfigInvalid, ErrCodeSchemaInvalid:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeForgeAuth:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeForgePermission:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeStageTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// ErrInternal creates an internal server error
func ErrInternal(message string, err error) *AppError {
	return Wrap(ErrCodeInternal, message, err)
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// AsAppError attempts to convert an error to AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
