// Package reservation owns the reservation lifecycle: the business status and
// the payment-security sub-state, changed only through guarded transitions.
//
// Every transition reads the reservation, checks its preconditions against that
// snapshot and writes conditioned on the version it read. A lost race is retried
// from a fresh read, and after maxCASAttempts the caller gets Conflict. A failed
// precondition leaves the stored reservation untouched.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/commission"
	"homeclean/services/events"
	"homeclean/services/payerr"
)

const maxCASAttempts = 5

type Machine struct {
	reservations repository.ReservationRepository
	logs         repository.PaymentLogRepository
	providers    repository.ProviderRepository
	splitter     *commission.Splitter
	publisher    events.Publisher
	logger       *zap.Logger
	now          func() time.Time
	currency     string
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Machine) { m.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithCurrency sets the currency of reservations created here.
func WithCurrency(c string) Option {
	return func(m *Machine) { m.currency = c }
}

func NewMachine(
	reservations repository.ReservationRepository,
	logs repository.PaymentLogRepository,
	providers repository.ProviderRepository,
	splitter *commission.Splitter,
	opts ...Option,
) *Machine {
	m := &Machine{
		reservations: reservations,
		logs:         logs,
		providers:    providers,
		splitter:     splitter,
		publisher:    events.Noop{},
		logger:       zap.NewNop(),
		now:          time.Now,
		currency:     "eur",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Splitter() *commission.Splitter {
	return m.splitter
}

// outcome collects what a mutation did. Effects run only after the write lands.
type outcome struct {
	changed      bool
	pendingDelta int64
	paidDelta    int64
	events       []events.Type
}

func (o *outcome) emit(t events.Type) {
	o.changed = true
	o.events = append(o.events, t)
}

type mutation func(r *models.Reservation, o *outcome) error

func (m *Machine) load(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := m.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, payerr.New(payerr.NotFound, "reservation %s", id)
		}
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	return r, nil
}

func (m *Machine) mutate(ctx context.Context, id string, op Operation, fn mutation) (*models.Reservation, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		cur, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		var o outcome
		if err := fn(next, &o); err != nil {
			return nil, err
		}
		if !o.changed {
			return cur, nil
		}

		// The legacy flag is never written apart from clientPaid.
		next.Paid = next.PaymentSecurity.ClientPaid
		if next.Pricing.TotalPrice > 0 {
			if err := commission.Validate(commission.Split{
				Total:          next.Pricing.TotalPrice,
				Commission:     next.Pricing.PlatformShare,
				ProviderAmount: next.Pricing.ProviderShare,
			}); err != nil {
				return nil, err
			}
		}
		next.UpdatedAt = m.now()

		err = m.reservations.Update(ctx, next, cur.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			m.logger.Debug("Reservation changed underneath, retrying",
				zap.String("reservationId", id),
				zap.String("operation", string(op)),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		m.logger.Info("Reservation transition",
			zap.String("reservationId", id),
			zap.String("operation", string(op)),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(next.Status)),
			zap.Int64("version", next.Version))
		m.afterCommit(ctx, cur, next, o)
		return next, nil
	}
	return nil, payerr.New(payerr.Conflict, "%s on %s lost %d races", op, id, maxCASAttempts)
}

func (m *Machine) afterCommit(ctx context.Context, before, after *models.Reservation, o outcome) {
	if (o.pendingDelta != 0 || o.paidDelta != 0) && after.ProviderID != "" {
		if err := m.providers.AddEarnings(ctx, after.ProviderID, o.pendingDelta, o.paidDelta); err != nil {
			m.logger.Error("Failed to update provider earnings",
				zap.String("reservationId", after.ID),
				zap.String("providerId", after.ProviderID),
				zap.Int64("pendingDelta", o.pendingDelta),
				zap.Int64("paidDelta", o.paidDelta),
				zap.Error(err))
		}
	}

	types := o.events
	if before.Status != after.Status {
		types = append([]events.Type{events.StatusChanged}, types...)
	}
	for _, t := range types {
		e := events.Event{
			Type:          t,
			ReservationID: after.ID,
			ClientID:      after.ClientID,
			ProviderID:    after.ProviderID,
			Status:        string(after.Status),
			Currency:      after.Currency,
			OccurredAt:    m.now(),
		}
		switch t {
		case events.PaymentRecorded:
			e.Amount = after.Pricing.TotalPrice
		case events.PayoutCompleted:
			e.Amount = after.Pricing.ProviderShare
		}
		if err := m.publisher.Publish(ctx, e); err != nil {
			m.logger.Warn("Failed to publish reservation event",
				zap.String("reservationId", after.ID),
				zap.String("eventType", string(t)),
				zap.Error(err))
		}
	}
}
