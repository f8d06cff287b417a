package core

import (
	"context"
	"time"

	"haccare/pkg/domain"
)

// RetryPolicy bounds automatic retries of transient store failures. Only
// TransientStoreError-classified failures are retried; structural errors
// propagate on the first attempt.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches the expected scale of the engine: a handful of
// quick retries over a small row count, then escalation.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = 50 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// retryTransient runs fn up to the policy's attempt limit, sleeping with
// exponential backoff between attempts. The sleep respects ctx; a canceled
// context returns the last error joined with ctx.Err() semantics via the
// original failure.
func retryTransient(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var err error
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		err = fn()
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		if attempt == policy.attempts() {
			break
		}
		select {
		case <-time.After(policy.delay(attempt)):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
