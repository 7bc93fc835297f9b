package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"homeclean/services/payerr"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errUpstream
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryStopsAtCap(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		attempts++
		return errUpstream
	})
	if !errors.Is(err, errUpstream) {
		t.Errorf("Do() error = %v, want upstream error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	attempts := 0
	_ = fastPolicy().Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(errors.New("400 invalid_request"))
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	attempts := 0
	err := policy.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errUpstream
	})
	if !errors.Is(err, errUpstream) {
		t.Errorf("Do() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestGuardDoesNotRetryOpenCircuit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	g := NewGuard(BreakerSettings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Now:              clock.Now,
	}, fastPolicy(), nil)

	calls := 0
	err := g.Call(context.Background(), "stripe", func(context.Context) error {
		calls++
		return errUpstream
	})
	if !errors.Is(err, payerr.ErrCircuitOpen) {
		t.Fatalf("Call() error = %v, want CircuitOpen once the breaker trips mid-retry", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	statuses := g.Statuses()
	if len(statuses) != 1 || statuses[0].State != StateOpen {
		t.Errorf("Statuses() = %+v, want one OPEN breaker", statuses)
	}
}
