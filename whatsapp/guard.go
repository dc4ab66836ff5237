package whatsapp

import (
	"context"
	"log/slog"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
)

// Guarded wraps a Sender with a circuit breaker and a retry policy for
// provider-side faults. Validation, auth and transport errors are returned
// after the first attempt.
type Guarded struct {
	next    Sender
	breaker *connectivity.CircuitBreaker
	policy  connectivity.RetryPolicy
	logger  *slog.Logger
}

// Guard returns next wrapped with breaker and policy. A nil breaker disables
// the breaker; a zero policy disables retries.
func Guard(next Sender, breaker *connectivity.CircuitBreaker, policy connectivity.RetryPolicy, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, policy: policy, logger: logger}
}

// Send validates msg, then sends it through the breaker with retries.
func (g *Guarded) Send(ctx context.Context, to string, msg Outbound) (*SendResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	var res *SendResult
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.next.Send(ctx, to, msg)
		return err
	})
	return res, err
}

// MarkRead marks a message read through the breaker. Read receipts are
// best effort and never retried.
func (g *Guarded) MarkRead(ctx context.Context, messageID string) error {
	if g.breaker != nil && !g.breaker.Allow() {
		return &connectivity.ErrCircuitOpen{Service: g.breaker.Service()}
	}
	err := g.next.MarkRead(ctx, messageID)
	g.record(err)
	return err
}

func (g *Guarded) do(ctx context.Context, fn func(context.Context) error) error {
	return connectivity.Retry(ctx, g.policy, Retryable, g.logger, func(ctx context.Context) error {
		if g.breaker != nil && !g.breaker.Allow() {
			return &connectivity.ErrCircuitOpen{Service: g.breaker.Service()}
		}
		err := fn(ctx)
		g.record(err)
		return err
	})
}

// record counts only provider-health failures against the breaker.
func (g *Guarded) record(err error) {
	if g.breaker == nil {
		return
	}
	switch KindOf(err) {
	case "":
		g.breaker.RecordSuccess()
	case KindTransient, KindRateLimit:
		g.breaker.RecordFailure()
	}
}
