package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"homeclean/services/payerr"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errUpstream = errors.New("502 bad gateway")

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker("stripe", BreakerSettings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
		Now:              clock.Now,
	})
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return errUpstream })
		if !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want upstream error", i, err)
		}
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	failN(t, b, 3)
	if got := b.Status().State; got != StateOpen {
		t.Fatalf("state = %v, want OPEN", got)
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, payerr.ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want CircuitOpen", err)
	}
	if called {
		t.Error("wrapped function invoked while breaker OPEN")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	failN(t, b, 2)
	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	failN(t, b, 2)

	if got := b.Status().State; got != StateClosed {
		t.Errorf("state = %v, want CLOSED (failures were not consecutive)", got)
	}
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)

	declined := Permanent(errors.New("card_declined"))
	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return declined })
	}
	if got := b.Status().State; got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)
	failN(t, b, 3)

	clock.Advance(time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	if got := b.Status().State; got != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", got)
	}
	err := b.Execute(context.Background(), func(context.Context) error {
		t.Error("second call went through while probe in flight")
		return nil
	})
	if !errors.Is(err, payerr.ErrCircuitOpen) {
		t.Errorf("concurrent call error = %v, want CircuitOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if got := b.Status().State; got != StateHalfOpen {
		t.Fatalf("state after one success = %v, want HALF_OPEN", got)
	}

	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second probe error: %v", err)
	}
	if got := b.Status().State; got != StateClosed {
		t.Errorf("state after %d successes = %v, want CLOSED", 2, got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newTestBreaker(clock)
	failN(t, b, 3)

	clock.Advance(59 * time.Second)
	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, payerr.ErrCircuitOpen) {
		t.Fatalf("before timeout error = %v, want CircuitOpen", err)
	}

	clock.Advance(time.Second)
	failN(t, b, 1)

	st := b.Status()
	if st.State != StateOpen {
		t.Fatalf("state = %v, want OPEN", st.State)
	}
	if want := clock.now.Add(time.Minute); !st.NextAttempt.Equal(want) {
		t.Errorf("NextAttempt = %v, want %v", st.NextAttempt, want)
	}
}

func TestBreakerHalfOpenIgnoresCanceledProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewBreaker("stripe", BreakerSettings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Now:              clock.Now,
	})
	failN(t, b, 1)
	clock.Advance(time.Minute)

	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if got := b.Status().State; got != StateHalfOpen {
		t.Fatalf("state after canceled probe = %v, want HALF_OPEN", got)
	}

	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("next probe error: %v", err)
	}
	if got := b.Status().State; got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}
