package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Sleeper waits out the backoff between attempts. Tests inject a no-op that
// records the requested delays.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetrierOptions tune the retry policy.
type RetrierOptions struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Retrier wraps a PriceUpdater with bounded retries and exponential backoff.
// A call that errors after exhausting the attempts surfaces the last error;
// a timed-out call is a failure, never a pending state.
type Retrier struct {
	next    PriceUpdater
	opts    RetrierOptions
	sleep   Sleeper
	logger  zerolog.Logger
	OnRetry func() // optional hook, used for metrics
}

// NewRetrier wraps next with the retry policy.
func NewRetrier(next PriceUpdater, opts RetrierOptions, logger zerolog.Logger) *Retrier {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	return &Retrier{
		next:   next,
		opts:   opts,
		sleep:  defaultSleep,
		logger: logger.With().Str("component", "gateway_retrier").Logger(),
	}
}

// WithSleeper replaces the backoff sleeper; intended for tests.
func (r *Retrier) WithSleeper(sleep Sleeper) *Retrier {
	r.sleep = sleep
	return r
}

// UpdatePrice retries the wrapped call up to MaxAttempts times, backing off
// base*2^n between attempts.
func (r *Retrier) UpdatePrice(ctx context.Context, productID string, price decimal.Decimal) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.opts.BackoffBase << (attempt - 1)
			r.logger.Warn().
				Str("product_id", productID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("retrying price update")
			if r.OnRetry != nil {
				r.OnRetry()
			}
			if err := r.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}

		requestID, err := r.next.UpdatePrice(ctx, productID, price)
		if err == nil {
			return requestID, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("price update failed after %d attempts: %w", r.opts.MaxAttempts, lastErr)
}

var _ PriceUpdater = (*Retrier)(nil)
