package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("graph", WithBreakerThreshold(3))

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if !cb.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold 3", i+1)
		}
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open after 3 failures")
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker("graph", WithBreakerThreshold(2))
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if !cb.Allow() {
		t.Fatal("non-consecutive failures must not open the breaker")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker("graph",
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(10*time.Second),
		WithBreakerClock(clock),
	)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("expected open")
	}

	now = now.Add(10 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}

	// A failed probe reopens.
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s, want open after failed probe", cb.State())
	}

	now = now.Add(10 * time.Second)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed after successful probe", cb.State())
	}
}

func TestBreaker_OnChange(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cb := NewCircuitBreaker("graph",
		WithBreakerThreshold(1),
		WithBreakerOnChange(func(service string, from, to BreakerState) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, service+":"+from.String()+"->"+to.String())
		}),
	)
	cb.RecordFailure()
	cb.Reset()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"graph:closed->open", "graph:open->closed"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

var errTemporary = errors.New("temporary")
var errPermanent = errors.New("permanent")

func onlyTemporary(err error) bool { return errors.Is(err, errTemporary) }

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	err := Retry(context.Background(), p, onlyTemporary, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTemporary
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxRetries: 5, BaseBackoff: time.Millisecond}
	err := Retry(context.Background(), p, onlyTemporary, nil, func(context.Context) error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_ExhaustsPolicy(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}
	err := Retry(context.Background(), p, onlyTemporary, nil, func(context.Context) error {
		calls++
		return errTemporary
	})
	if !errors.Is(err, errTemporary) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
}

func TestRetry_ZeroPolicySingleAttempt(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryPolicy{}, onlyTemporary, nil, func(context.Context) error {
		calls++
		return errTemporary
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := RetryPolicy{MaxRetries: 5, BaseBackoff: time.Hour}
	err := Retry(ctx, p, onlyTemporary, nil, func(context.Context) error {
		calls++
		cancel()
		return errTemporary
	})
	if !errors.Is(err, errTemporary) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_BackoffCap(t *testing.T) {
	p := RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	if got := p.wait(0); got != 100*time.Millisecond {
		t.Fatalf("wait(0) = %v", got)
	}
	if got := p.wait(1); got != 200*time.Millisecond {
		t.Fatalf("wait(1) = %v", got)
	}
	if got := p.wait(4); got != 300*time.Millisecond {
		t.Fatalf("wait(4) = %v, want cap", got)
	}
}

// ---------------------------------------------------------------------------
// Protect
// ---------------------------------------------------------------------------

func TestProtect(t *testing.T) {
	if err := Protect(func() error { return nil }); err != nil {
		t.Fatalf("Protect(nil fn) = %v", err)
	}

	err := Protect(func() error { panic("state table corrupt") })
	var pe *ErrPanic
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ErrPanic, got %T", err)
	}
	if pe.Value != "state table corrupt" || pe.Stack == "" {
		t.Fatalf("panic details missing: %+v", pe)
	}

	cause := errors.New("nil map write")
	err = Protect(func() error { panic(cause) })
	if !errors.Is(err, cause) {
		t.Fatalf("ErrPanic should unwrap error values, got %v", err)
	}
}
