// Package repository declares the persistence contracts of the reservation engine.
// Mongo implementations live in the per-collection subpackages; memory holds an
// in-process implementation of all of them.
package repository

import (
	"context"
	"time"

	"homeclean/models"
)

// ReservationQuery selects reservations for sweeps. Zero fields do not filter.
// Results are ordered by id; AfterID pages through them.
type ReservationQuery struct {
	Statuses       []models.ReservationStatus
	ProviderID     string
	ClientPaid     *bool
	ProofValidated *bool
	ProviderPaid   *bool
	Blocked        *bool
	// HasPaymentIntent keeps reservations that carry a payment intent id.
	HasPaymentIntent bool
	// PaidMismatch keeps reservations whose legacy paid flag disagrees with clientPaid.
	PaidMismatch bool
	// NonCanonicalStatus keeps reservations whose stored status is not in the enum.
	NonCanonicalStatus bool
	UpdatedBefore      time.Time
	AfterID            string
	Limit              int
}

type ReservationRepository interface {
	Create(ctx context.Context, r *models.Reservation) error
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Reservation, error)
	// Update replaces the stored reservation only if its version still equals
	// expectedVersion, and stores it with version expectedVersion+1. On success
	// r.Version is advanced. ErrVersionConflict otherwise.
	Update(ctx context.Context, r *models.Reservation, expectedVersion int64) error
	Find(ctx context.Context, q ReservationQuery) ([]models.Reservation, error)
}

type PaymentLogRepository interface {
	// Insert appends a log. ErrDuplicate when (paymentIntentId, kind) already exists.
	Insert(ctx context.Context, l *models.PaymentLog) error
	GetByIntent(ctx context.Context, paymentIntentID string, kind models.PaymentLogKind) (*models.PaymentLog, error)
	ListByReservation(ctx context.Context, reservationID string) ([]models.PaymentLog, error)
	// FindUnreflectedCharges returns completed charge logs whose reservation is
	// not marked clientPaid, ordered by id.
	FindUnreflectedCharges(ctx context.Context, afterID string, limit int) ([]models.PaymentLog, error)
}

type AlertQuery struct {
	Type     models.AlertType
	Severity models.AlertSeverity
	Resolved *bool
	Limit    int
}

type AlertRepository interface {
	// Insert stores an alert. ErrDuplicate when an unresolved alert with the
	// same type and reference exists.
	Insert(ctx context.Context, a *models.AlertLog) error
	GetByID(ctx context.Context, id string) (*models.AlertLog, error)
	List(ctx context.Context, q AlertQuery) ([]models.AlertLog, error)
	// Resolve marks one alert resolved. ErrAlreadyResolved if it was.
	Resolve(ctx context.Context, id, note, resolvedBy string, at time.Time) error
	// ResolveOpen resolves the unresolved alert of this type and reference, if
	// any, and reports whether one was found.
	ResolveOpen(ctx context.Context, alertType models.AlertType, reference, note string, at time.Time) (bool, error)
}

type ProviderRepository interface {
	GetByID(ctx context.Context, id string) (*models.Provider, error)
	GetByStripeAccount(ctx context.Context, accountID string) (*models.Provider, error)
	SetPayoutVerified(ctx context.Context, id string, verified bool) error
	// AddEarnings increments pending and paid earnings atomically.
	AddEarnings(ctx context.Context, id string, pendingDelta, paidDelta int64) error
}

func Bool(v bool) *bool {
	return &v
}
