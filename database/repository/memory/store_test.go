package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"homeclean/database/repository"
	"homeclean/models"
)

func TestReservationUpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Reservations()

	if err := repo.Create(ctx, &models.Reservation{ID: "r1", Status: models.StatusDraft}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	r, _ := repo.GetByID(ctx, "r1")
	r.Status = models.StatusAwaitingProvider
	if err := repo.Update(ctx, r, 0); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if r.Version != 1 {
		t.Errorf("Version = %d, want 1", r.Version)
	}

	stale := &models.Reservation{ID: "r1", Status: models.StatusCancelled}
	if err := repo.Update(ctx, stale, 0); !errors.Is(err, repository.ErrVersionConflict) {
		t.Errorf("stale Update() error = %v, want ErrVersionConflict", err)
	}
	if err := repo.Update(ctx, &models.Reservation{ID: "missing"}, 0); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing Update() error = %v, want ErrNotFound", err)
	}
}

func TestReturnedReservationsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Reservations()
	_ = repo.Create(ctx, &models.Reservation{ID: "r1", Status: models.StatusDraft})

	r, _ := repo.GetByID(ctx, "r1")
	r.Status = models.StatusCancelled

	again, _ := repo.GetByID(ctx, "r1")
	if again.Status != models.StatusDraft {
		t.Errorf("stored status = %s, mutation leaked into the store", again.Status)
	}
}

func TestPaymentLogUniqueIntentAndKind(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	logs := s.PaymentLogs()

	charge := &models.PaymentLog{ID: "l1", Kind: models.PaymentKindCharge, StripePaymentIntentID: "pi_1"}
	if err := logs.Insert(ctx, charge); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	dup := &models.PaymentLog{ID: "l2", Kind: models.PaymentKindCharge, StripePaymentIntentID: "pi_1"}
	if err := logs.Insert(ctx, dup); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("duplicate Insert() error = %v, want ErrDuplicate", err)
	}
	payout := &models.PaymentLog{ID: "l3", Kind: models.PaymentKindPayout, StripePaymentIntentID: "pi_1"}
	if err := logs.Insert(ctx, payout); err != nil {
		t.Errorf("payout Insert() error: %v", err)
	}
	if got := s.Writes(); got != 2 {
		t.Errorf("Writes() = %d, want 2", got)
	}
}

func TestFindUnreflectedCharges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutReservation(models.Reservation{ID: "paid", PaymentSecurity: models.PaymentSecurity{ClientPaid: true}})
	s.PutReservation(models.Reservation{ID: "unpaid"})

	logs := s.PaymentLogs()
	_ = logs.Insert(ctx, &models.PaymentLog{ID: "a", Kind: models.PaymentKindCharge, Status: models.PaymentCompleted, StripePaymentIntentID: "pi_a", ReservationID: "paid"})
	_ = logs.Insert(ctx, &models.PaymentLog{ID: "b", Kind: models.PaymentKindCharge, Status: models.PaymentCompleted, StripePaymentIntentID: "pi_b", ReservationID: "unpaid"})
	_ = logs.Insert(ctx, &models.PaymentLog{ID: "c", Kind: models.PaymentKindCharge, Status: models.PaymentCompleted, StripePaymentIntentID: "pi_c", ReservationID: "gone"})
	_ = logs.Insert(ctx, &models.PaymentLog{ID: "d", Kind: models.PaymentKindCharge, Status: models.PaymentFailed, StripePaymentIntentID: "pi_d", ReservationID: "unpaid2"})

	got, err := logs.FindUnreflectedCharges(ctx, "", 0)
	if err != nil {
		t.Fatalf("FindUnreflectedCharges() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Errorf("FindUnreflectedCharges() = %+v, want logs b and c", got)
	}

	page, _ := logs.FindUnreflectedCharges(ctx, "b", 10)
	if len(page) != 1 || page[0].ID != "c" {
		t.Errorf("page after b = %+v, want log c", page)
	}
}

func TestOpenAlertDedupe(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	alerts := s.Alerts()

	first := &models.AlertLog{ID: "a1", Type: models.AlertMissingProvider, Reference: "r1"}
	if err := alerts.Insert(ctx, first); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	second := &models.AlertLog{ID: "a2", Type: models.AlertMissingProvider, Reference: "r1"}
	if err := alerts.Insert(ctx, second); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("second Insert() error = %v, want ErrDuplicate", err)
	}

	if err := alerts.Resolve(ctx, "a1", "provider onboarded", "ops", time.Now()); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if err := alerts.Resolve(ctx, "a1", "again", "ops", time.Now()); !errors.Is(err, repository.ErrAlreadyResolved) {
		t.Errorf("second Resolve() error = %v, want ErrAlreadyResolved", err)
	}
	if err := alerts.Insert(ctx, second); err != nil {
		t.Errorf("Insert() after resolve error: %v", err)
	}

	found, err := alerts.ResolveOpen(ctx, models.AlertMissingProvider, "r1", "paid", time.Now())
	if err != nil || !found {
		t.Errorf("ResolveOpen() = %v, %v, want true, nil", found, err)
	}
	found, _ = alerts.ResolveOpen(ctx, models.AlertMissingProvider, "r1", "paid", time.Now())
	if found {
		t.Error("ResolveOpen() found an alert after it was resolved")
	}
}

func TestFindPaidMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutReservation(models.Reservation{ID: "ok", Paid: true, PaymentSecurity: models.PaymentSecurity{ClientPaid: true}})
	s.PutReservation(models.Reservation{ID: "drift", Paid: true})

	got, err := s.Reservations().Find(ctx, repository.ReservationQuery{PaidMismatch: true})
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "drift" {
		t.Errorf("Find(PaidMismatch) = %+v, want drift only", got)
	}
}
