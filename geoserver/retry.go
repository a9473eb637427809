package geoserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxRetries is the number of additional attempts after the first.
	DefaultMaxRetries = 3
	// DefaultRetryBaseDelay is the delay before the first retry. Each
	// subsequent retry waits one more multiple of the base, so the schedule
	// increases monotonically (1x, 2x, 3x, ...).
	DefaultRetryBaseDelay = 2 * time.Second
)

// RetryPolicy controls how transport-level failures are retried.
// Only transport errors are retried: any received HTTP response, whatever
// its status code, is returned to the caller immediately.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // delay unit; attempt n waits n * BaseDelay
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultRetryBaseDelay,
	}
}

// delayFor returns the sleep before retry attempt n (1-based).
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	return time.Duration(attempt) * p.BaseDelay
}

// doWithRetry executes fn until it yields a response, the retry budget is
// exhausted, or ctx is cancelled. fn builds a fresh request per attempt so
// request bodies are re-readable.
func (p RetryPolicy) doWithRetry(ctx context.Context, op string, fn func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error

	attempts := p.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.delayFor(attempt)
		log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("GeoServer request failed, retrying")

		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}

	return nil, &TransientError{Attempts: attempts, Err: lastErr}
}

// sleepCtx sleeps for d or until ctx is done. Returns false when interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
