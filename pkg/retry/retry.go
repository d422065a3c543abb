package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrBudgetExhausted is returned by Until when the condition never became
// true within the retry budget.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// Policy is a bounded fixed-interval retry policy. The zero value is not
// usable; construct with Fixed.
type Policy struct {
	Interval   time.Duration
	MaxRetries uint64
}

// Fixed returns a policy that retries up to maxRetries times with a fixed
// interval between attempts.
func Fixed(interval time.Duration, maxRetries uint64) Policy {
	return Policy{Interval: interval, MaxRetries: maxRetries}
}

// Budget returns the maximum total time the policy can spend waiting
// between attempts.
func (p Policy) Budget() time.Duration {
	return p.Interval * time.Duration(p.MaxRetries)
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.MaxRetries),
		ctx,
	)
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
// Wrap an error with Permanent to stop retrying immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.backoff(ctx))
}

// Until polls cond at the policy's interval until it reports true. It
// returns ErrBudgetExhausted when the budget runs out and ctx.Err when the
// context is cancelled first.
func (p Policy) Until(ctx context.Context, cond func(context.Context) bool) error {
	err := backoff.Retry(func() error {
		if cond(ctx) {
			return nil
		}
		return ErrBudgetExhausted
	}, p.backoff(ctx))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Permanent marks err as non-retryable for Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
