package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"homeclean/models"
	"homeclean/services/payerr"
	"homeclean/services/reconciliation"
	"homeclean/services/tasks"
)

type stubPayer struct {
	err   error
	calls []string
}

func (s *stubPayer) Pay(ctx context.Context, id string) (*models.Reservation, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Reservation{ID: id}, nil
}

type stubSweeper struct {
	err error
	ran int
}

func (s *stubSweeper) Sweep(ctx context.Context) (*reconciliation.SweepResult, error) {
	s.ran++
	if s.err != nil {
		return nil, s.err
	}
	return &reconciliation.SweepResult{Repaired: 2}, nil
}

func payoutTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, _, err := tasks.NewPayoutTask(id)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestPayoutTaskRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{"paid", nil, false, false},
		{"destination missing", payerr.New(payerr.PayoutDestinationMissing, "no account"), true, true},
		{"not validated", payerr.New(payerr.IllegalTransition, "proof missing"), true, true},
		{"breaker open", payerr.New(payerr.CircuitOpen, "stripe"), true, false},
		{"transfer failed", payerr.New(payerr.PayoutFailed, "declined"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPayer{err: tt.err}
			err := handlePayoutTask(p, zap.NewNop())(context.Background(), payoutTask(t, "r1"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Errorf("SkipRetry = %v, want %v", got, tt.skipRetry)
			}
			if len(p.calls) != 1 || p.calls[0] != "r1" {
				t.Errorf("Pay calls = %v", p.calls)
			}
		})
	}
}

func TestPayoutTaskBadPayload(t *testing.T) {
	p := &stubPayer{}
	err := handlePayoutTask(p, zap.NewNop())(context.Background(), asynq.NewTask(tasks.TypePayoutSend, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, want SkipRetry", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("Pay called for a bad payload")
	}
}

func TestSweepTask(t *testing.T) {
	sweep, _ := tasks.NewSweepTask()

	ok := &stubSweeper{}
	if err := handleSweepTask(ok, zap.NewNop())(context.Background(), sweep); err != nil || ok.ran != 1 {
		t.Errorf("sweep: err=%v ran=%d", err, ok.ran)
	}

	busy := &stubSweeper{err: payerr.New(payerr.Conflict, "already running")}
	if err := handleSweepTask(busy, zap.NewNop())(context.Background(), sweep); err != nil {
		t.Errorf("overlapping sweep should be skipped, got %v", err)
	}

	broken := &stubSweeper{err: errors.New("mongo down")}
	if err := handleSweepTask(broken, zap.NewNop())(context.Background(), sweep); err == nil {
		t.Error("sweep failure swallowed")
	}
}
