// Package retry runs an operation again with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxAttempts is the default number of attempts before giving up.
	DefaultMaxAttempts = 3

	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 10 * time.Second

	// jitterFraction is the maximum fraction of the delay added as jitter.
	jitterFraction = 0.25
)

// Policy controls how an operation is retried. The zero value makes
// DefaultMaxAttempts attempts with a 1s, 2s, 4s ... backoff capped at 10s and
// treats every error as retryable.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable reports whether err is worth another attempt. Nil means
	// every error is retried.
	Retryable func(err error) bool
}

// Do calls fn with the 1-based attempt number until it succeeds, returns an
// error rejected by Retryable, or the attempts run out. It reports how many
// attempts were made alongside the last error. Cancelling ctx stops the
// backoff wait and returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	limit := p.attempts()

	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}

		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == limit {
			return attempt, err
		}

		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, ctx.Err()
		case <-t.C:
		}
	}
	return limit, err
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay is the wait after the given failed attempt (1-based): BaseDelay
// doubled per attempt, capped at MaxDelay, plus up to 25% jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base, ceiling := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if ceiling <= 0 {
		ceiling = defaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	return delay + time.Duration(float64(delay)*jitterFraction*rand.Float64())
}
