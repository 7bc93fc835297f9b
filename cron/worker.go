// Package cron runs the queued payouts and the scheduled reconciliation sweep.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"homeclean/models"
	"homeclean/services/payerr"
	"homeclean/services/reconciliation"
	"homeclean/services/tasks"
)

const maxStartAttempts = 5

// Payer sends one provider payout.
type Payer interface {
	Pay(ctx context.Context, id string) (*models.Reservation, error)
}

// Sweeper runs one reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (*reconciliation.SweepResult, error)
}

type WorkerConfig struct {
	Concurrency   int
	SweepSchedule string
}

// Worker owns the asynq server and the scheduler that enqueues the sweep.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewWorker(redisOpt asynq.RedisClientOpt, cfg WorkerConfig, payer Payer, sweeper Sweeper, logger *zap.Logger) (*Worker, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 10
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1h"
	}
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: logger.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypePayoutSend, handlePayoutTask(payer, logger))
	mux.HandleFunc(tasks.TypeReconcileSweep, handleSweepTask(sweeper, logger))

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC, Logger: logger.Sugar()})
	task, opts := tasks.NewSweepTask()
	if _, err := scheduler.Register(cfg.SweepSchedule, task, opts...); err != nil {
		return nil, fmt.Errorf("register sweep schedule %q: %w", cfg.SweepSchedule, err)
	}

	return &Worker{server: srv, scheduler: scheduler, mux: mux, logger: logger}, nil
}

// Start launches the worker and the scheduler in the background, retrying a
// failed start with a growing pause.
func (w *Worker) Start() {
	go func() {
		w.logger.Info("Starting async worker")
		for attempts := 1; attempts <= maxStartAttempts; attempts++ {
			err := w.server.Start(w.mux)
			if err == nil {
				break
			}
			w.logger.Error("Failed to start worker",
				zap.Int("attempt", attempts), zap.Int("maxAttempts", maxStartAttempts), zap.Error(err))
			if attempts == maxStartAttempts {
				w.logger.Fatal("Max retry attempts reached for worker start")
			}
			time.Sleep(time.Duration(attempts*2) * time.Second)
		}
		if err := w.scheduler.Start(); err != nil {
			w.logger.Error("Failed to start sweep scheduler", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting tasks and waits for the running ones.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.logger.Info("Async worker stopped")
}

func handlePayoutTask(payer Payer, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParsePayoutPayload(task)
		if err != nil {
			logger.Error("Dropping payout task", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		r, err := payer.Pay(ctx, p.ReservationID)
		if err == nil {
			logger.Info("Payout task done",
				zap.String("reservationId", p.ReservationID),
				zap.String("transferId", r.PaymentSecurity.ProviderPaymentID))
			return nil
		}
		switch payerr.CodeOf(err) {
		case payerr.PayoutDestinationMissing, payerr.IllegalTransition, payerr.NotFound, payerr.InvalidAmount:
			// Left to the reconciliation sweep once the cause is fixed.
			logger.Warn("Payout task not retried",
				zap.String("reservationId", p.ReservationID), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("Payout task failed, will retry",
			zap.String("reservationId", p.ReservationID), zap.Error(err))
		return err
	}
}

func handleSweepTask(sweeper Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		res, err := sweeper.Sweep(ctx)
		if errors.Is(err, payerr.ErrConflict) {
			logger.Info("Reconciliation already running, skipping scheduled run")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Scheduled reconciliation finished",
			zap.Duration("duration", res.Duration),
			zap.Int("repaired", res.Repaired),
			zap.Int("payoutsSent", res.PayoutsSent),
			zap.Int("alertsRaised", res.AlertsRaised),
			zap.Int("errors", res.Errors))
		return nil
	}
}
