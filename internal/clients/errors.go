package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass partitions outbound call failures for retry and surfacing
// decisions. Only Transient and RemoteUnavailable are retried.
type ErrorClass string

const (
	ClassTransient         ErrorClass = "transient"
	ClassPermanentInvalid  ErrorClass = "permanent_invalid"
	ClassUnauthorized      ErrorClass = "unauthorized"
	ClassNotFound          ErrorClass = "not_found"
	ClassRemoteUnavailable ErrorClass = "remote_unavailable"
)

// ErrCircuitOpen short-circuits calls while a host's breaker is open.
// It carries the RemoteUnavailable class but is never retried.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Error is the classified failure every client operation returns
type Error struct {
	Class      ErrorClass
	Service    string // logic, draft, embed, graph, vector
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry loop may attempt this call again
func (e *Error) Retryable() bool {
	if errors.Is(e.Err, ErrCircuitOpen) {
		return false
	}
	return e.Class == ClassTransient || e.Class == ClassRemoteUnavailable
}

// ClassifyStatus maps an HTTP response status to an error class
func ClassifyStatus(status int) ErrorClass {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassUnauthorized
	case http.StatusNotFound:
		return ClassNotFound
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return ClassTransient
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ClassRemoteUnavailable
	}
	if status >= 500 {
		return ClassTransient
	}
	return ClassPermanentInvalid
}

// ClassifyTransport maps a transport-level failure (no HTTP response) to an
// error class. Context expiry is transient so deadline wording survives to
// the job error; connection failures are remote-unavailable.
func ClassifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	return ClassRemoteUnavailable
}

// ClassOf extracts the class from an error chain, defaulting to transient
func ClassOf(err error) ErrorClass {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Class
	}
	return ClassTransient
}

// IsNotFound reports whether the error chain carries the NotFound class
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

// IsRemoteUnavailable reports whether the error chain carries the
// RemoteUnavailable class
func IsRemoteUnavailable(err error) bool {
	return ClassOf(err) == ClassRemoteUnavailable
}
