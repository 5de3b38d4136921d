package ship

import (
	"context"
	"time"
)

// maxTransportAttempts bounds the retry loop WithRetry runs before giving up
// and returning the last error, per the documented "retry with exponential
// backoff (bounded attempts)" transport error policy.
const maxTransportAttempts = 5

// backoffBase is the delay before the second attempt; it doubles on every
// subsequent attempt.
const backoffBase = 200 * time.Millisecond

// WithRetry calls fn up to maxTransportAttempts times, waiting an
// exponentially increasing delay between attempts, and returns the last
// error if every attempt fails. It returns early if ctx is canceled while
// waiting between attempts.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := backoffBase
	for attempt := 1; attempt <= maxTransportAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxTransportAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
