package retry

import (
	"CricLedger/internal/domain"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Policy bounds a retry loop. Backoff doubles from Initial up to Max.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultPolicy retries lock contention a handful of times within roughly a
// second.
var DefaultPolicy = Policy{
	Attempts: 5,
	Initial:  25 * time.Millisecond,
	Max:      400 * time.Millisecond,
}

// Backoff returns the delay before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return d
}

// Do runs fn until it succeeds, returns an error that is not retryable per
// domain.IsRetryable, the attempts are exhausted or ctx is done. The last
// error is returned unchanged so callers still see its Kind.
func Do(ctx context.Context, p Policy, log zerolog.Logger, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := p.Backoff(attempt)
		log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("retrying after conflict")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
	return err
}
