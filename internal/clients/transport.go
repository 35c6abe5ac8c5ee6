package clients

// -----------------------------------------------------------------------
// Shared request engine behind every remote service client. Applies the
// rate limiter, consults the per-host circuit breaker, retries retryable
// failures with exponential backoff, and classifies everything that can
// go wrong into a clients.Error.
// -----------------------------------------------------------------------

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout for service calls.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// maxErrorBodyBytes caps how much of an error response body is kept.
	maxErrorBodyBytes = 2048
)

// transport carries the plumbing shared by the typed clients
type transport struct {
	service    string
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	breaker    *Breaker
	retry      RetryConfig
	authToken  string
}

// Option configures a service client's transport.
type Option func(*transport)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(t *transport) {
		t.httpClient = httpClient
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *transport) {
		t.httpClient.Timeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) Option {
	return func(t *transport) {
		t.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) Option {
	return func(t *transport) {
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithRetry sets a custom retry policy.
func WithRetry(retry RetryConfig) Option {
	return func(t *transport) {
		t.retry = retry
	}
}

// WithBreakerRegistry resolves the client's breaker from a shared
// registry so clients pointed at the same host share failure history.
func WithBreakerRegistry(registry *BreakerRegistry) Option {
	return func(t *transport) {
		t.breaker = registry.Get(hostOf(t.baseURL))
	}
}

// WithAuthToken sets a bearer token sent on every request.
func WithAuthToken(token string) Option {
	return func(t *transport) {
		t.authToken = token
	}
}

func newTransport(service, baseURL string, opts ...Option) *transport {
	t := &transport{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retry:   DefaultRetryConfig(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.breaker == nil {
		t.breaker = NewBreaker(DefaultBreakerConfig())
	}

	return t
}

func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Host
}

// doJSON performs a JSON request with retry. Only Transient and
// RemoteUnavailable failures are reattempted; an open breaker stops the
// loop immediately.
func (t *transport) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := t.retry.DelayForRetry(attempt)
			if t.logger != nil {
				t.logger.Debug().
					Str("service", t.service).
					Str("path", path).
					Int("retry", attempt).
					Dur("delay", delay).
					Msg("Retrying request after backoff")
			}
			select {
			case <-ctx.Done():
				return &Error{
					Class:    ClassifyTransport(ctx.Err()),
					Service:  t.service,
					Endpoint: path,
					Message:  fmt.Sprintf("%s %s aborted", t.service, path),
					Err:      ctx.Err(),
				}
			case <-time.After(delay):
			}
		}

		err := t.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var cerr *Error
		if !errors.As(err, &cerr) || !cerr.Retryable() {
			return err
		}
	}

	return lastErr
}

// once performs a single request attempt
func (t *transport) once(ctx context.Context, method, path string, body, out interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &Error{
			Class:    ClassifyTransport(err),
			Service:  t.service,
			Endpoint: path,
			Message:  fmt.Sprintf("%s %s rate limit wait failed", t.service, path),
			Err:      err,
		}
	}

	if !t.breaker.Allow() {
		return &Error{
			Class:    ClassRemoteUnavailable,
			Service:  t.service,
			Endpoint: path,
			Message:  fmt.Sprintf("%s %s rejected", t.service, path),
			Err:      ErrCircuitOpen,
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{
				Class:    ClassPermanentInvalid,
				Service:  t.service,
				Endpoint: path,
				Message:  fmt.Sprintf("%s %s request encoding failed", t.service, path),
				Err:      err,
			}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return &Error{
			Class:    ClassPermanentInvalid,
			Service:  t.service,
			Endpoint: path,
			Message:  fmt.Sprintf("%s %s request build failed", t.service, path),
			Err:      err,
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	if t.logger != nil {
		t.logger.Debug().
			Str("service", t.service).
			Str("method", method).
			Str("path", path).
			Msg("Service request")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.breaker.RecordFailure()
		return &Error{
			Class:    ClassifyTransport(err),
			Service:  t.service,
			Endpoint: path,
			Message:  fmt.Sprintf("%s %s failed", t.service, path),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := ClassifyStatus(resp.StatusCode)
		// Host-health classes trip the breaker; contract errors prove
		// the host is alive.
		if class == ClassTransient || class == ClassRemoteUnavailable {
			t.breaker.RecordFailure()
		} else {
			t.breaker.RecordSuccess()
		}

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		cerr := &Error{
			Class:      class,
			Service:    t.service,
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s %s returned %d", t.service, path, resp.StatusCode),
		}
		if len(snippet) > 0 {
			cerr.Err = errors.New(strings.TrimSpace(string(snippet)))
		}
		return cerr
	}

	t.breaker.RecordSuccess()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Class:    ClassPermanentInvalid,
			Service:  t.service,
			Endpoint: path,
			Message:  fmt.Sprintf("%s %s response decoding failed", t.service, path),
			Err:      err,
		}
	}

	return nil
}
