package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds how often and how patiently a failed call is retried.
// The zero value performs a single attempt.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries twice, waiting 200ms then 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

func (p RetryPolicy) wait(attempt int) time.Duration {
	d := p.BaseBackoff * (1 << uint(attempt))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Retry calls fn until it succeeds, fails with an error retryable rejects,
// exhausts the policy, or ctx is done. It returns the last error.
// A nil logger retries silently.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, logger *slog.Logger, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= p.MaxRetries || !retryable(err) {
			return err
		}
		if _, open := err.(*ErrCircuitOpen); open {
			return err
		}

		wait := p.wait(attempt)
		if logger != nil {
			logger.WarnContext(ctx, "retrying call",
				"attempt", attempt+1,
				"max_retries", p.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
