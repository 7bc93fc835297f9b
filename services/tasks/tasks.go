// Package tasks defines the background jobs run by the asynq worker.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypePayoutSend     = "payout:send"
	TypeReconcileSweep = "reconciliation:sweep"
	payoutMaxRetry     = 8
	sweepUniqueFor     = 55 * time.Minute
	payoutRetention    = 24 * time.Hour
)

type PayoutPayload struct {
	ReservationID string `json:"reservationId"`
}

func NewPayoutTask(reservationID string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(PayoutPayload{ReservationID: reservationID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypePayoutSend, b)
	opts := []asynq.Option{
		asynq.TaskID("payout:" + reservationID),
		asynq.MaxRetry(payoutMaxRetry),
		asynq.Retention(payoutRetention),
	}
	return task, opts, nil
}

func ParsePayoutPayload(t *asynq.Task) (PayoutPayload, error) {
	var p PayoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", TypePayoutSend, err)
	}
	if p.ReservationID == "" {
		return p, fmt.Errorf("invalid %s payload: no reservation id", TypePayoutSend)
	}
	return p, nil
}

// NewSweepTask builds the hourly reconciliation task. Unique keeps a slow run
// from overlapping the next one.
func NewSweepTask() (*asynq.Task, []asynq.Option) {
	return asynq.NewTask(TypeReconcileSweep, nil), []asynq.Option{asynq.Unique(sweepUniqueFor), asynq.MaxRetry(0)}
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher queues payouts for the worker.
type Dispatcher struct {
	client enqueuer
}

func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// TriggerPayout queues one payout per reservation. A payout already queued
// or retained counts as success.
func (d *Dispatcher) TriggerPayout(ctx context.Context, reservationID string) error {
	task, opts, err := NewPayoutTask(reservationID)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}
