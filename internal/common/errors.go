package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode partitions failures the API can surface to callers
type ErrorCode string

const (
	ErrCodeValidation   ErrorCode = "validation"
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeBusy         ErrorCode = "busy"
	ErrCodeUnavailable  ErrorCode = "unavailable"
	ErrCodeInternal     ErrorCode = "internal"
)

// AppError is the error shape every handler translates into an HTTP response.
// Services return it directly when the failure is caller-visible; anything
// else surfaces as internal.
type AppError struct {
	Code       ErrorCode
	Message    string
	RetryAfter time.Duration // Hint for busy responses; zero means none
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to its response status
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeBusy:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports a malformed or incomplete request
func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an absent entity
func NewNotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewUnauthorizedError reports a failed credential check
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: ErrCodeUnauthorized, Message: message}
}

// NewBusyError reports submission backpressure with a retry hint
func NewBusyError(retryAfter time.Duration) *AppError {
	return &AppError{Code: ErrCodeBusy, Message: "submission queue is full", RetryAfter: retryAfter}
}

// NewUnavailableError reports an unreachable upstream dependency
func NewUnavailableError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeUnavailable, Message: message, Err: err}
}

// NewInternalError wraps an unexpected failure
func NewInternalError(err error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: "internal error", Err: err}
}

// AsAppError unwraps err to an AppError if one is in the chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
