package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Authentication errors
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Policy errors
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeBlocked         ErrorCode = "BLOCKED"
	ErrCodeUserUnavailable ErrorCode = "USER_UNAVAILABLE"
	ErrCodeUserBusy        ErrorCode = "USER_BUSY"
	ErrCodeEditWindow      ErrorCode = "EDIT_WINDOW_EXPIRED"
	ErrCodeImmutable       ErrorCode = "MESSAGE_IMMUTABLE"
	ErrCodeModeration      ErrorCode = "MODERATION_FLAGGED"

	// Not found errors
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound    ErrorCode = "USER_NOT_FOUND"
	ErrCodeMessageNotFound ErrorCode = "MESSAGE_NOT_FOUND"

	// Rate limiting errors
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors by code so sentinel comparisons work with errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// newWithStatus creates a new AppError with a specific HTTP status code
func newWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// wrapWithStatus wraps an existing error with an AppError and specific status code
func wrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func ValidationError(message string) *AppError {
	return newWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidTokenError(message string) *AppError {
	return newWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func ForbiddenError(message string) *AppError {
	return newWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

func BlockedError() *AppError {
	return newWithStatus(ErrCodeBlocked, "You cannot interact with this user", http.StatusForbidden)
}

func UserUnavailableError(reason string) *AppError {
	return newWithStatus(ErrCodeUserUnavailable, "User is unavailable", http.StatusConflict).WithDetails(reason)
}

func UserBusyError() *AppError {
	return newWithStatus(ErrCodeUserBusy, "User is busy", http.StatusConflict)
}

func EditWindowExpiredError(action string) *AppError {
	return newWithStatus(ErrCodeEditWindow, fmt.Sprintf("Message can no longer be %s", action), http.StatusForbidden)
}

func ImmutableMessageError() *AppError {
	return newWithStatus(ErrCodeImmutable, "Attachments cannot be edited", http.StatusForbidden)
}

func ModerationError(reason string) *AppError {
	return newWithStatus(ErrCodeModeration, "Message violates content rules", http.StatusUnprocessableEntity).WithDetails(reason)
}

func NotFoundError(resource string) *AppError {
	return newWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func UserNotFoundError() *AppError {
	return newWithStatus(ErrCodeUserNotFound, "User not found", http.StatusNotFound)
}

func MessageNotFoundError() *AppError {
	return newWithStatus(ErrCodeMessageNotFound, "Message not found", http.StatusNotFound)
}

func RateLimitExceededError() *AppError {
	return newWithStatus(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

func InternalError(message string) *AppError {
	return newWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func ServiceUnavailableError(err error) *AppError {
	return wrapWithStatus(ErrCodeServiceUnavail, "Service temporarily unavailable", http.StatusServiceUnavailable, err)
}

// GetAppError extracts AppError from an error chain, wrapping anything else as
// an internal error whose message is safe to show clients
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return wrapWithStatus(ErrCodeInternal, "Something went wrong", http.StatusInternalServerError, err)
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
