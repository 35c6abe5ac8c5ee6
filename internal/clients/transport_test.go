package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialDelayMS: 1,
		BackoffFactor:  2.0,
		MaxDelayMS:     10,
		JitterFraction: 0,
	}
}

func TestTransport_RetryBackoffFloor(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tr := newTransport("logic", server.URL, WithRateLimit(1000))

	start := time.Now()
	var out map[string]bool
	err := tr.doJSON(context.Background(), http.MethodGet, "/probe", nil, &out)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	// Three retries wait at least 200+400+800 ms before jitter.
	assert.GreaterOrEqual(t, elapsed, 1400*time.Millisecond)
	assert.True(t, out["ok"])
}

func TestTransport_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantClass ErrorClass
		wantCalls int32
	}{
		{"bad request is permanent", http.StatusBadRequest, ClassPermanentInvalid, 1},
		{"unprocessable is permanent", http.StatusUnprocessableEntity, ClassPermanentInvalid, 1},
		{"unauthorized is not retried", http.StatusUnauthorized, ClassUnauthorized, 1},
		{"forbidden is unauthorized", http.StatusForbidden, ClassUnauthorized, 1},
		{"missing resource is not found", http.StatusNotFound, ClassNotFound, 1},
		{"server error is retried", http.StatusInternalServerError, ClassTransient, 3},
		{"bad gateway is retried", http.StatusBadGateway, ClassRemoteUnavailable, 3},
		{"throttling is retried", http.StatusTooManyRequests, ClassTransient, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			tr := newTransport("graph", server.URL, WithRetry(fastRetry(2)), WithRateLimit(1000))

			err := tr.doJSON(context.Background(), http.MethodGet, "/thing", nil, nil)
			require.Error(t, err)

			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.wantClass, cerr.Class)
			assert.Equal(t, tt.status, cerr.StatusCode)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestTransport_ErrorBodyPreserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("subject must not be empty"))
	}))
	defer server.Close()

	tr := newTransport("graph", server.URL, WithRetry(fastRetry(1)), WithRateLimit(1000))

	err := tr.doJSON(context.Background(), http.MethodPost, "/claims", map[string]string{"subject": ""}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject must not be empty")
}

func TestTransport_CircuitOpenStopsCalls(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := newTransport("logic", server.URL, WithRetry(fastRetry(3)), WithRateLimit(1000))
	for i := 0; i < 5; i++ {
		tr.breaker.RecordFailure()
	}

	err := tr.doJSON(context.Background(), http.MethodGet, "/generate", nil, nil)
	require.Error(t, err)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ClassRemoteUnavailable, cerr.Class)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, cerr.Retryable())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "open breaker must not reach the server")
}

func TestTransport_DeadlineWordingSurvives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := newTransport("logic", server.URL, WithRetry(fastRetry(1)), WithRateLimit(1000))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tr.doJSON(ctx, http.MethodGet, "/generate", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}

func TestTransport_AuthTokenHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := newTransport("graph", server.URL, WithAuthToken("s3cret"), WithRateLimit(1000))

	err := tr.doJSON(context.Background(), http.MethodGet, "/health", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
}

func TestTransport_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := newTransport("embed", server.URL, WithRetry(fastRetry(0)), WithRateLimit(1000))

	for i := 0; i < 5; i++ {
		err := tr.doJSON(context.Background(), http.MethodPost, "/embed", nil, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}

	err := tr.doJSON(context.Background(), http.MethodPost, "/embed", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen), "sixth call should be rejected by the breaker")
}

func TestTransport_ContractErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	tr := newTransport("graph", server.URL, WithRetry(fastRetry(0)), WithRateLimit(1000))

	for i := 0; i < 10; i++ {
		err := tr.doJSON(context.Background(), http.MethodPost, "/claims", nil, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}
}
