package alert

import (
	"context"
	"errors"
	"testing"

	"homeclean/database/repository"
	"homeclean/database/repository/memory"
	"homeclean/models"
	"homeclean/services/payerr"
)

type recordingNotifier struct {
	alerts []*models.AlertLog
}

func (r *recordingNotifier) NotifyAlert(ctx context.Context, a *models.AlertLog) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func TestRaiseDedupesOpenAlerts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	svc := NewService(store.Alerts(), notifier, nil)

	a := models.AlertLog{
		Type:          models.AlertMissingProvider,
		Severity:      models.SeverityHigh,
		ReservationID: "r1",
		Message:       "provider has no verified payout destination",
	}
	created, err := svc.Raise(ctx, a)
	if err != nil || !created {
		t.Fatalf("Raise() = %v, %v, want created", created, err)
	}
	writes := store.Writes()

	created, err = svc.Raise(ctx, a)
	if err != nil || created {
		t.Fatalf("second Raise() = %v, %v, want not created", created, err)
	}
	if store.Writes() != writes {
		t.Error("duplicate alert caused a write")
	}
	if len(notifier.alerts) != 1 {
		t.Errorf("notified %d times, want 1", len(notifier.alerts))
	}
}

func TestRaiseLowSeverityNotPushed(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewService(memory.NewStore().Alerts(), notifier, nil)
	_, _ = svc.Raise(context.Background(), models.AlertLog{
		Type: models.AlertWebhookProcessingError, Severity: models.SeverityMedium, Reference: "evt_1",
	})
	if len(notifier.alerts) != 0 {
		t.Error("medium alert was pushed")
	}
}

func TestRaiseRequiresReference(t *testing.T) {
	svc := NewService(memory.NewStore().Alerts(), nil, nil)
	if _, err := svc.Raise(context.Background(), models.AlertLog{Type: models.AlertProviderAPIError}); err == nil {
		t.Error("Raise() without reference expected error")
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewStore().Alerts(), nil, nil)
	_, _ = svc.Raise(ctx, models.AlertLog{Type: models.AlertTransferFailed, Severity: models.SeverityLow, ReservationID: "r1"})

	open, _ := svc.List(ctx, repository.AlertQuery{Resolved: repository.Bool(false)})
	if len(open) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(open))
	}

	if _, err := svc.Resolve(ctx, open[0].ID, "", "ops"); !errors.Is(err, payerr.ErrIllegalTransition) {
		t.Errorf("Resolve() without note error = %v", err)
	}
	got, err := svc.Resolve(ctx, open[0].ID, "paid manually", "ops")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !got.Resolved || got.ResolutionNote != "paid manually" {
		t.Errorf("Resolve() = %+v", got)
	}
	if _, err := svc.Resolve(ctx, open[0].ID, "again", "ops"); !errors.Is(err, payerr.ErrConflict) {
		t.Errorf("second Resolve() error = %v, want Conflict", err)
	}
	if _, err := svc.Resolve(ctx, "missing", "x", "ops"); !errors.Is(err, payerr.ErrNotFound) {
		t.Errorf("Resolve(missing) error = %v, want NotFound", err)
	}
}
