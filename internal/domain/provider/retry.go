package provider

import (
	"context"
	"time"
)

// RetryPolicy configures bounded exponential backoff.
type RetryPolicy struct {
	Attempts   int           `default:"4"     usage:"Maximum attempts per call"`
	BaseDelay  time.Duration `default:"500ms" usage:"Initial delay between attempts"`
	MaxDelay   time.Duration `default:"10s"   usage:"Maximum delay between attempts"`
	Multiplier float64       `default:"2"     usage:"Backoff multiplier"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   4,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the backoff before attempt n+1 (n starts at 0).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for range n {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. fn receives the zero-based attempt number so it can
// re-check provider state before repeating a call with an unknown outcome.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
