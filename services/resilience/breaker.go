// Package resilience guards calls to external dependencies with a per-dependency
// circuit breaker and a bounded retry.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"homeclean/services/payerr"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// BreakerSettings configures one breaker.
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	// IsFailure decides whether an error counts against the dependency.
	// Defaults to Transient.
	IsFailure func(error) bool
	Now       func() time.Time
}

// Breaker is a CLOSED/OPEN/HALF_OPEN state machine for one dependency.
// In HALF_OPEN at most one call is in flight at a time.
type Breaker struct {
	name     string
	settings BreakerSettings

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	nextAttempt time.Time
	probing     bool
}

func NewBreaker(name string, settings BreakerSettings) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	if settings.SuccessThreshold < 1 {
		settings.SuccessThreshold = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = Transient
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings, state: StateClosed}
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn unless the breaker is open. An open breaker returns CircuitOpen
// without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.settings.Now().Before(b.nextAttempt) {
			return payerr.New(payerr.CircuitOpen, "%s unavailable until %s", b.name, b.nextAttempt.Format(time.RFC3339))
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return payerr.New(payerr.CircuitOpen, "%s probe in flight", b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && b.settings.IsFailure(err)

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if errors.Is(err, context.Canceled) {
			// No answer from the dependency; the next call probes again.
			return
		}
		if failed {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.failures = 0
	b.successes = 0
	b.nextAttempt = b.settings.Now().Add(b.settings.Timeout)
}

// Status is a point-in-time view of a breaker.
type Status struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	NextAttempt time.Time `json:"nextAttempt,omitempty"`
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{Name: b.name, State: b.state, Failures: b.failures}
	if b.state == StateOpen {
		st.NextAttempt = b.nextAttempt
	}
	return st
}

// PermanentError marks an error the dependency answered deliberately (a 4xx).
// It is neither retried nor counted against the breaker.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Transient reports whether err is worth retrying and counting: anything that is
// not permanent, not a caller cancellation and not an open circuit.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, payerr.ErrCircuitOpen) {
		return false
	}
	return true
}
