package clients

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures the bounded retry loop shared by all clients.
// Only Transient and RemoteUnavailable failures consume retries.
type RetryConfig struct {
	MaxRetries     int
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
	JitterFraction float64
}

// DefaultRetryConfig returns the production retry policy: three retries
// with 200ms/400ms/800ms delays plus up to 20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialDelayMS: 200,
		BackoffFactor:  2.0,
		MaxDelayMS:     60_000,
		JitterFraction: 0.20,
	}
}

// DelayForRetry returns the delay to sleep before the given retry.
// retry is 1-indexed: the first retry waits the initial delay. Jitter is
// additive so cumulative waits never fall below the deterministic floor.
func (c RetryConfig) DelayForRetry(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if c.InitialDelayMS <= 0 {
		return 0
	}

	baseMS := float64(c.InitialDelayMS) * math.Pow(c.BackoffFactor, float64(retry-1))
	if c.MaxDelayMS > 0 {
		baseMS = math.Min(baseMS, float64(c.MaxDelayMS))
	}

	if c.JitterFraction > 0 {
		baseMS *= 1.0 + rand.Float64()*c.JitterFraction
	}

	return time.Duration(baseMS * float64(time.Millisecond))
}
