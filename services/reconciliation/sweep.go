// Package reconciliation finds reservations whose business status, payment
// sub-state and ledger disagree, and repairs them through the reservation
// machine. Cases it cannot settle from provider-confirmed evidence are left
// alone and raised as alerts.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/gateway"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
)

const (
	defaultBatchSize = 100
	defaultGrace     = 15 * time.Minute
)

// Payer sends the provider share of a reservation.
type Payer interface {
	Pay(ctx context.Context, id string) (*models.Reservation, error)
}

// SweepResult counts what one run found and did, per drift pattern.
type SweepResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	CompletedUnpaid int `json:"completedUnpaid"`
	IntentUnpaid    int `json:"intentUnpaid"`
	UnreflectedLogs int `json:"unreflectedLogs"`
	PaidMismatch    int `json:"paidMismatch"`
	PendingPayouts  int `json:"pendingPayouts"`

	Repaired     int `json:"repaired"`
	PayoutsSent  int `json:"payoutsSent"`
	AlertsRaised int `json:"alertsRaised"`
	// Unresolved counts reservations left for a later run without an alert.
	Unresolved int `json:"unresolved"`
	Errors     int `json:"errors"`
}

type Service struct {
	machine      *reservation.Machine
	reservations repository.ReservationRepository
	logs         repository.PaymentLogRepository
	gateway      gateway.PaymentGateway
	alerts       *alert.Service
	payer        Payer
	logger       *zap.Logger
	batchSize    int
	grace        time.Duration
	now          func() time.Time
	running      atomic.Bool
}

type Option func(*Service)

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithGrace leaves reservations touched more recently than d to in-flight webhooks.
func WithGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(
	machine *reservation.Machine,
	reservations repository.ReservationRepository,
	logs repository.PaymentLogRepository,
	gw gateway.PaymentGateway,
	alerts *alert.Service,
	payer Payer,
	opts ...Option,
) *Service {
	s := &Service{
		machine:      machine,
		reservations: reservations,
		logs:         logs,
		gateway:      gw,
		alerts:       alerts,
		payer:        payer,
		logger:       zap.NewNop(),
		batchSize:    defaultBatchSize,
		grace:        defaultGrace,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs every drift pattern once. Only one sweep runs at a time per
// process; a second caller gets Conflict. A failure on one reservation is
// counted and the sweep moves on.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, payerr.New(payerr.Conflict, "reconciliation sweep already running")
	}
	defer s.running.Store(false)

	res := &SweepResult{StartedAt: s.now()}
	steps := []struct {
		name string
		run  func(context.Context, *SweepResult) error
	}{
		{"completedUnpaid", s.completedUnpaid},
		{"intentUnpaid", s.intentUnpaid},
		{"unreflectedLogs", s.unreflectedLogs},
		{"paidMismatch", s.paidMismatch},
		{"pendingPayouts", s.pendingPayouts},
	}
	for _, step := range steps {
		if err := step.run(ctx, res); err != nil {
			s.logger.Error("Reconciliation step aborted", zap.String("step", step.name), zap.Error(err))
			res.Errors++
		}
		if ctx.Err() != nil {
			break
		}
	}
	res.Duration = s.now().Sub(res.StartedAt)

	s.logger.Info("Reconciliation sweep finished",
		zap.Int("completedUnpaid", res.CompletedUnpaid),
		zap.Int("intentUnpaid", res.IntentUnpaid),
		zap.Int("unreflectedLogs", res.UnreflectedLogs),
		zap.Int("paidMismatch", res.PaidMismatch),
		zap.Int("pendingPayouts", res.PendingPayouts),
		zap.Int("repaired", res.Repaired),
		zap.Int("payoutsSent", res.PayoutsSent),
		zap.Int("alertsRaised", res.AlertsRaised),
		zap.Int("errors", res.Errors),
		zap.Duration("duration", res.Duration))
	return res, ctx.Err()
}

// each pages through reservations matching q in id order.
func (s *Service) each(ctx context.Context, q repository.ReservationQuery, fn func(*models.Reservation)) error {
	q.Limit = s.batchSize
	for {
		batch, err := s.reservations.Find(ctx, q)
		if err != nil {
			return err
		}
		for i := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(&batch[i])
		}
		if len(batch) < s.batchSize {
			return nil
		}
		q.AfterID = batch[len(batch)-1].ID
	}
}

// completedUnpaid: the job is done but the client payment is not recorded.
func (s *Service) completedUnpaid(ctx context.Context, res *SweepResult) error {
	q := repository.ReservationQuery{
		Statuses:   []models.ReservationStatus{models.StatusCompleted},
		ClientPaid: repository.Bool(false),
	}
	return s.each(ctx, q, func(r *models.Reservation) {
		res.CompletedUnpaid++
		s.settlePayment(ctx, r, res)
	})
}

// intentUnpaid: an intent is on file but clientPaid is not set. Reservations
// updated inside the grace window are left to their webhooks.
func (s *Service) intentUnpaid(ctx context.Context, res *SweepResult) error {
	q := repository.ReservationQuery{
		HasPaymentIntent: true,
		ClientPaid:       repository.Bool(false),
		UpdatedBefore:    s.now().Add(-s.grace),
	}
	return s.each(ctx, q, func(r *models.Reservation) {
		if r.Status == models.StatusCompleted {
			// Already handled by completedUnpaid this run.
			return
		}
		res.IntentUnpaid++
		s.settlePayment(ctx, r, res)
	})
}

// settlePayment re-derives the client payment of r from the ledger first and
// the payment provider second.
func (s *Service) settlePayment(ctx context.Context, r *models.Reservation, res *SweepResult) {
	log := s.logger.With(zap.String("reservationId", r.ID))

	if ev, ok := s.ledgerEvidence(ctx, r); ok {
		s.record(ctx, r, ev, res)
		return
	}

	intent := r.PaymentSecurity.StripePaymentIntentID
	if intent == "" {
		s.conflict(ctx, r, res, "reservation completed without any payment on record", nil)
		return
	}
	pi, err := s.gateway.GetPaymentIntent(ctx, intent)
	if err != nil {
		log.Warn("Could not read payment intent", zap.String("paymentIntentId", intent), zap.Error(err))
		res.Errors++
		return
	}

	switch pi.Status {
	case gateway.IntentSucceeded:
		s.record(ctx, r, reservation.PaymentEvidence{
			PaymentIntentID: pi.ID,
			ChargeID:        pi.ChargeID,
			Amount:          pi.AmountReceived,
			Currency:        pi.Currency,
			PaymentMethod:   pi.PaymentMethod,
			Captured:        true,
		}, res)
	case gateway.IntentRequiresCapture:
		if r.PaymentSecurity.ClientAuthorized {
			if r.Status == models.StatusCompleted {
				s.conflict(ctx, r, res, "reservation completed but its authorization was never captured", map[string]string{
					"paymentIntentId": pi.ID,
					"intentStatus":    pi.Status,
				})
				return
			}
			res.Unresolved++
			return
		}
		s.record(ctx, r, reservation.PaymentEvidence{
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Currency:        pi.Currency,
			PaymentMethod:   pi.PaymentMethod,
		}, res)
	case gateway.IntentCanceled:
		if !r.PaymentSecurity.ClientAuthorized {
			if r.Status == models.StatusCompleted {
				s.conflict(ctx, r, res, "reservation completed but payment intent "+pi.Status, map[string]string{
					"paymentIntentId": pi.ID,
					"intentStatus":    pi.Status,
				})
				return
			}
			res.Unresolved++
			return
		}
		before := r.Version
		after, err := s.machine.ReleaseAuthorization(ctx, r.ID, pi.ID)
		s.count(ctx, r, before, after, err, res)
	default:
		if r.Status == models.StatusCompleted {
			s.conflict(ctx, r, res, "reservation completed but payment intent "+pi.Status, map[string]string{
				"paymentIntentId": pi.ID,
				"intentStatus":    pi.Status,
			})
			return
		}
		res.Unresolved++
	}
}

// ledgerEvidence returns the completed charge log of r, if one exists.
func (s *Service) ledgerEvidence(ctx context.Context, r *models.Reservation) (reservation.PaymentEvidence, bool) {
	logs, err := s.logs.ListByReservation(ctx, r.ID)
	if err != nil {
		s.logger.Warn("Could not read payment logs", zap.String("reservationId", r.ID), zap.Error(err))
		return reservation.PaymentEvidence{}, false
	}
	for _, l := range logs {
		if l.Kind == models.PaymentKindCharge && l.Status == models.PaymentCompleted {
			return evidenceFromLog(l), true
		}
	}
	return reservation.PaymentEvidence{}, false
}

func evidenceFromLog(l models.PaymentLog) reservation.PaymentEvidence {
	return reservation.PaymentEvidence{
		PaymentIntentID: l.StripePaymentIntentID,
		ChargeID:        l.ChargeID,
		Amount:          l.TotalAmount,
		Currency:        l.Currency,
		PaymentMethod:   l.PaymentMethod,
		Captured:        true,
		At:              l.CreatedAt,
	}
}

// unreflectedLogs: a completed charge is in the ledger but its reservation is
// not marked paid.
func (s *Service) unreflectedLogs(ctx context.Context, res *SweepResult) error {
	after := ""
	for {
		batch, err := s.logs.FindUnreflectedCharges(ctx, after, s.batchSize)
		if err != nil {
			return err
		}
		for _, l := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.UnreflectedLogs++
			s.reflect(ctx, l, res)
		}
		if len(batch) < s.batchSize {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *Service) reflect(ctx context.Context, l models.PaymentLog, res *SweepResult) {
	r, err := s.machine.Get(ctx, l.ReservationID, reservation.System())
	if errors.Is(err, payerr.ErrNotFound) {
		s.raise(ctx, res, models.AlertLog{
			Type:          models.AlertReconciliationConflict,
			Severity:      models.SeverityHigh,
			Reference:     l.ID,
			ReservationID: l.ReservationID,
			Amount:        l.TotalAmount,
			Currency:      l.Currency,
			Message:       "charge recorded for a reservation that does not exist",
			Details:       map[string]string{"paymentIntentId": l.StripePaymentIntentID},
		})
		return
	}
	if err != nil {
		s.logger.Warn("Could not load reservation", zap.String("reservationId", l.ReservationID), zap.Error(err))
		res.Errors++
		return
	}
	if r.PaymentSecurity.ClientPaid {
		return
	}
	s.record(ctx, r, evidenceFromLog(l), res)
}

// record applies ev through the machine. Evidence the machine refuses is
// conflicting and becomes an alert.
func (s *Service) record(ctx context.Context, r *models.Reservation, ev reservation.PaymentEvidence, res *SweepResult) {
	before := r.Version
	after, err := s.machine.RecordClientPayment(ctx, r.ID, ev)
	switch payerr.CodeOf(err) {
	case payerr.IllegalTransition, payerr.InvalidAmount:
		s.conflict(ctx, r, res, "payment evidence contradicts the reservation", map[string]string{
			"paymentIntentId": ev.PaymentIntentID,
			"amount":          fmt.Sprint(ev.Amount),
			"error":           err.Error(),
		})
		return
	}
	s.count(ctx, r, before, after, err, res)
}

func (s *Service) count(ctx context.Context, r *models.Reservation, before int64, after *models.Reservation, err error, res *SweepResult) {
	if err != nil {
		s.logger.Warn("Reconciliation repair failed", zap.String("reservationId", r.ID), zap.Error(err))
		res.Errors++
		return
	}
	if after != nil && after.Version != before {
		res.Repaired++
		s.logger.Info("Reservation repaired",
			zap.String("reservationId", r.ID),
			zap.String("status", string(after.Status)),
			zap.Bool("clientPaid", after.PaymentSecurity.ClientPaid))
	}
}

// paidMismatch: the legacy paid flag drifted from clientPaid.
func (s *Service) paidMismatch(ctx context.Context, res *SweepResult) error {
	return s.each(ctx, repository.ReservationQuery{PaidMismatch: true}, func(r *models.Reservation) {
		res.PaidMismatch++
		before := r.Version
		after, err := s.machine.SyncLegacyPaid(ctx, r.ID)
		s.count(ctx, r, before, after, err, res)
	})
}

// pendingPayouts: proven and paid by the client, provider still unpaid.
func (s *Service) pendingPayouts(ctx context.Context, res *SweepResult) error {
	if s.payer == nil {
		return nil
	}
	q := repository.ReservationQuery{
		Statuses:       []models.ReservationStatus{models.StatusConfirmed, models.StatusInProgress, models.StatusCompleted},
		ProofValidated: repository.Bool(true),
		ClientPaid:     repository.Bool(true),
		ProviderPaid:   repository.Bool(false),
		Blocked:        repository.Bool(false),
	}
	return s.each(ctx, q, func(r *models.Reservation) {
		res.PendingPayouts++
		_, err := s.payer.Pay(ctx, r.ID)
		switch {
		case err == nil:
			res.PayoutsSent++
		case errors.Is(err, payerr.ErrPayoutDestinationMissing), errors.Is(err, payerr.ErrCircuitOpen):
			// Alerted by the payout service; retried next run.
			res.Unresolved++
		default:
			s.logger.Warn("Payout retry failed", zap.String("reservationId", r.ID), zap.Error(err))
			res.Errors++
		}
	})
}

func (s *Service) conflict(ctx context.Context, r *models.Reservation, res *SweepResult, msg string, details map[string]string) {
	s.raise(ctx, res, models.AlertLog{
		Type:          models.AlertReconciliationConflict,
		Severity:      models.SeverityHigh,
		ReservationID: r.ID,
		ProviderID:    r.ProviderID,
		Amount:        r.Pricing.TotalPrice,
		Currency:      r.Currency,
		Message:       msg,
		Details:       details,
	})
}

func (s *Service) raise(ctx context.Context, res *SweepResult, a models.AlertLog) {
	created, err := s.alerts.Raise(ctx, a)
	if err != nil {
		s.logger.Error("Failed to raise reconciliation alert", zap.String("reservationId", a.ReservationID), zap.Error(err))
		res.Errors++
		return
	}
	if created {
		res.AlertsRaised++
	}
}
