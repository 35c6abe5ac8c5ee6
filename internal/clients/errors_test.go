package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusBadRequest, ClassPermanentInvalid},
		{http.StatusUnauthorized, ClassUnauthorized},
		{http.StatusForbidden, ClassUnauthorized},
		{http.StatusNotFound, ClassNotFound},
		{http.StatusRequestTimeout, ClassTransient},
		{http.StatusConflict, ClassPermanentInvalid},
		{http.StatusUnprocessableEntity, ClassPermanentInvalid},
		{http.StatusTooManyRequests, ClassTransient},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusBadGateway, ClassRemoteUnavailable},
		{http.StatusServiceUnavailable, ClassRemoteUnavailable},
		{http.StatusGatewayTimeout, ClassRemoteUnavailable},
		{599, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status))
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, ClassTransient, ClassifyTransport(context.DeadlineExceeded))
	assert.Equal(t, ClassTransient, ClassifyTransport(context.Canceled))
	assert.Equal(t, ClassRemoteUnavailable, ClassifyTransport(errors.New("connection refused")))
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ClassTransient, true},
		{ClassRemoteUnavailable, true},
		{ClassPermanentInvalid, false},
		{ClassUnauthorized, false},
		{ClassNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			err := &Error{Class: tt.class, Message: "x"}
			assert.Equal(t, tt.want, err.Retryable())
		})
	}

	t.Run("circuit open is never retryable", func(t *testing.T) {
		err := &Error{Class: ClassRemoteUnavailable, Message: "rejected", Err: ErrCircuitOpen}
		assert.False(t, err.Retryable())
	})
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassNotFound, ClassOf(&Error{Class: ClassNotFound}))
	assert.Equal(t, ClassNotFound, ClassOf(fmt.Errorf("wrapped: %w", &Error{Class: ClassNotFound})))
	assert.Equal(t, ClassTransient, ClassOf(errors.New("plain")), "unclassified errors default to transient")

	assert.True(t, IsNotFound(&Error{Class: ClassNotFound}))
	assert.False(t, IsNotFound(&Error{Class: ClassTransient}))
	assert.True(t, IsRemoteUnavailable(&Error{Class: ClassRemoteUnavailable}))
}

func TestError_Message(t *testing.T) {
	plain := &Error{Class: ClassPermanentInvalid, Message: "invalid_schema"}
	assert.Equal(t, "invalid_schema", plain.Error())

	wrapped := &Error{Class: ClassTransient, Message: "logic /generate failed", Err: errors.New("boom")}
	assert.Equal(t, "logic /generate failed: boom", wrapped.Error())
	assert.Equal(t, "boom", errors.Unwrap(wrapped).Error())
}
