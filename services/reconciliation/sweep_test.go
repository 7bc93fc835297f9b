package reconciliation

import (
	"context"
	"testing"
	"time"

	"homeclean/database/repository"
	"homeclean/database/repository/memory"
	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/commission"
	"homeclean/services/gateway"
	"homeclean/services/gateway/gatewaytest"
	"homeclean/services/payout"
	"homeclean/services/reservation"
)

var (
	now  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past = now.Add(-2 * time.Hour)
)

type fixture struct {
	store *memory.Store
	gw    *gatewaytest.Fake
	svc   *Service
}

func newFixture(t *testing.T, provider models.Provider) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProvider(provider)
	splitter, err := commission.NewSplitter(commission.DefaultRate)
	if err != nil {
		t.Fatal(err)
	}
	clock := func() time.Time { return now }
	m := reservation.NewMachine(store.Reservations(), store.PaymentLogs(), store.Providers(), splitter,
		reservation.WithClock(clock))
	gw := gatewaytest.New()
	alerts := alert.NewService(store.Alerts(), nil, nil)
	payer := payout.NewService(m, store.Providers(), gw, alerts, payout.Test, nil)
	svc := NewService(m, store.Reservations(), store.PaymentLogs(), gw, alerts, payer,
		WithClock(clock), WithBatchSize(2))
	return &fixture{store: store, gw: gw, svc: svc}
}

// drifted is a reservation of 100.00 whose job is done but whose payment was
// never recorded.
func drifted(id string) models.Reservation {
	return models.Reservation{
		ID:         id,
		ClientID:   "c1",
		ProviderID: "p1",
		Status:     models.StatusCompleted,
		Currency:   "eur",
		Pricing:    models.Pricing{TotalPrice: 10000, ProviderShare: 8000, PlatformShare: 2000},
		PaymentSecurity: models.PaymentSecurity{
			ClientAuthorized:      true,
			StripePaymentIntentID: "pi_" + id,
		},
		ExecutionProof: models.ExecutionProof{Validated: true, ValidatedAt: &past, ValidatedBy: "client"},
		Version:        3,
		CreatedAt:      past,
		UpdatedAt:      past,
	}
}

func (f *fixture) captured(id string) {
	f.gw.Intents[id] = &gateway.PaymentIntent{
		ID:             id,
		Status:         gateway.IntentSucceeded,
		Amount:         10000,
		AmountReceived: 10000,
		Currency:       "eur",
		ChargeID:       "ch_" + id,
	}
}

func TestCompletedUnpaidIsRepaired(t *testing.T) {
	f := newFixture(t, models.Provider{ID: "p1"})
	ctx := context.Background()
	f.store.PutReservation(drifted("r1"))
	f.captured("pi_r1")

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if res.CompletedUnpaid != 1 || res.Repaired != 1 {
		t.Errorf("result = %+v", res)
	}

	r, _ := f.store.Reservations().GetByID(ctx, "r1")
	if !r.Paid || !r.PaymentSecurity.ClientPaid || r.PaymentSecurity.ClientPaymentID != "ch_pi_r1" {
		t.Errorf("payment security = %+v paid = %v", r.PaymentSecurity, r.Paid)
	}
	logs, _ := f.store.PaymentLogs().ListByReservation(ctx, "r1")
	if len(logs) != 1 || logs[0].Kind != models.PaymentKindCharge {
		t.Fatalf("logs = %+v", logs)
	}
	p, _ := f.store.Providers().GetByID(ctx, "p1")
	if p.Earnings.Pending != 8000 {
		t.Errorf("pending earnings = %d, want 8000", p.Earnings.Pending)
	}

	// p1 has no payout account, so the payout retry parks it behind an alert.
	missing, _ := f.store.Alerts().List(ctx, repository.AlertQuery{Type: models.AlertMissingProvider})
	if len(missing) != 1 {
		t.Errorf("missing provider alerts = %d, want 1", len(missing))
	}

	writes := f.store.Writes()
	res, err = f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep() error: %v", err)
	}
	if got := f.store.Writes(); got != writes {
		t.Errorf("second sweep wrote %d times", got-writes)
	}
	if res.Repaired != 0 || res.AlertsRaised != 0 {
		t.Errorf("second result = %+v", res)
	}
}

func TestSweepRetriesPayout(t *testing.T) {
	f := newFixture(t, models.Provider{ID: "p1", PaymentDetails: models.PaymentDetails{StripeAccountID: "acct_1"}})
	ctx := context.Background()
	f.store.PutReservation(drifted("r1"))
	f.captured("pi_r1")
	f.gw.Verify("acct_1")

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.PayoutsSent != 1 {
		t.Fatalf("result = %+v", res)
	}
	r, _ := f.store.Reservations().GetByID(ctx, "r1")
	if !r.PaymentSecurity.ProviderPaid || r.PaymentSecurity.ProviderPaymentID != "tr_r1" {
		t.Errorf("payment security = %+v", r.PaymentSecurity)
	}
	p, _ := f.store.Providers().GetByID(ctx, "p1")
	if p.Earnings.Pending != 0 || p.Earnings.Paid != 8000 {
		t.Errorf("earnings = %+v", p.Earnings)
	}
	if _, transfers := f.gw.Calls(); transfers != 1 {
		t.Errorf("transfers = %d", transfers)
	}
}

func TestUnreflectedChargeLog(t *testing.T) {
	f := newFixture(t, models.Provider{ID: "p1"})
	ctx := context.Background()
	r := drifted("r1")
	r.Status = models.StatusConfirmed
	r.ExecutionProof = models.ExecutionProof{}
	r.UpdatedAt = now
	f.store.PutReservation(r)
	if err := f.store.PaymentLogs().Insert(ctx, &models.PaymentLog{
		ID:                    "log1",
		Kind:                  models.PaymentKindCharge,
		ReservationID:         "r1",
		StripePaymentIntentID: "pi_r1",
		TotalAmount:           10000,
		Commission:            2000,
		ProviderAmount:        8000,
		Currency:              "eur",
		Status:                models.PaymentCompleted,
		ChargeID:              "ch_1",
		CreatedAt:             past,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.UnreflectedLogs != 1 || res.Repaired != 1 {
		t.Errorf("result = %+v", res)
	}
	got, _ := f.store.Reservations().GetByID(ctx, "r1")
	if !got.PaymentSecurity.ClientPaid || !got.Paid {
		t.Error("ledger charge not reflected")
	}
	logs, _ := f.store.PaymentLogs().ListByReservation(ctx, "r1")
	if len(logs) != 1 {
		t.Errorf("logs = %d, want 1", len(logs))
	}
}

func TestConflictingEvidenceRaisesOneAlert(t *testing.T) {
	f := newFixture(t, models.Provider{ID: "p1"})
	ctx := context.Background()
	f.store.PutReservation(drifted("r1"))
	f.gw.Intents["pi_r1"] = &gateway.PaymentIntent{
		ID: "pi_r1", Status: gateway.IntentSucceeded, Amount: 5000, AmountReceived: 5000, Currency: "eur",
	}

	for run := 1; run <= 2; run++ {
		if _, err := f.svc.Sweep(ctx); err != nil {
			t.Fatal(err)
		}
	}
	alerts, _ := f.store.Alerts().List(ctx, repository.AlertQuery{Type: models.AlertReconciliationConflict})
	if len(alerts) != 1 || alerts[0].ReservationID != "r1" {
		t.Fatalf("conflict alerts = %+v", alerts)
	}
	r, _ := f.store.Reservations().GetByID(ctx, "r1")
	if r.PaymentSecurity.ClientPaid || r.Version != 3 {
		t.Errorf("conflicting reservation was written: version %d", r.Version)
	}
}

func TestIntentPatterns(t *testing.T) {
	tests := []struct {
		name       string
		intent     gateway.PaymentIntent
		authorized bool
		updatedAt  time.Time
		wantStatus models.ReservationStatus
		wantHold   bool
		wantPaid   bool
	}{
		{
			name:       "hold never recorded",
			intent:     gateway.PaymentIntent{Status: gateway.IntentRequiresCapture, Amount: 10000, Currency: "eur"},
			updatedAt:  past,
			wantStatus: models.StatusConfirmed,
			wantHold:   true,
		},
		{
			name:       "hold released at provider",
			intent:     gateway.PaymentIntent{Status: gateway.IntentCanceled, Amount: 10000, Currency: "eur"},
			authorized: true,
			updatedAt:  past,
			wantStatus: models.StatusEstimated,
		},
		{
			name:       "captured at provider",
			intent:     gateway.PaymentIntent{Status: gateway.IntentSucceeded, Amount: 10000, AmountReceived: 10000, Currency: "eur"},
			updatedAt:  past,
			wantStatus: models.StatusConfirmed,
			wantHold:   true,
			wantPaid:   true,
		},
		{
			name:       "inside grace window",
			intent:     gateway.PaymentIntent{Status: gateway.IntentSucceeded, Amount: 10000, AmountReceived: 10000, Currency: "eur"},
			updatedAt:  now.Add(-time.Minute),
			wantStatus: models.StatusEstimated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.Provider{ID: "p1"})
			ctx := context.Background()
			r := drifted("r1")
			r.Status = models.StatusEstimated
			r.ExecutionProof = models.ExecutionProof{}
			r.PaymentSecurity.ClientAuthorized = tt.authorized
			if tt.authorized {
				r.Status = models.StatusConfirmed
			}
			r.UpdatedAt = tt.updatedAt
			f.store.PutReservation(r)
			pi := tt.intent
			pi.ID = "pi_r1"
			f.gw.Intents[pi.ID] = &pi

			if _, err := f.svc.Sweep(ctx); err != nil {
				t.Fatal(err)
			}
			got, _ := f.store.Reservations().GetByID(ctx, "r1")
			if got.Status != tt.wantStatus || got.PaymentSecurity.ClientAuthorized != tt.wantHold || got.PaymentSecurity.ClientPaid != tt.wantPaid {
				t.Errorf("status %s authorized %v paid %v, want %s %v %v",
					got.Status, got.PaymentSecurity.ClientAuthorized, got.PaymentSecurity.ClientPaid,
					tt.wantStatus, tt.wantHold, tt.wantPaid)
			}
		})
	}
}

func TestPaidMismatchAndPaging(t *testing.T) {
	f := newFixture(t, models.Provider{ID: "p1"})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.store.PutReservation(models.Reservation{
			ID:        id,
			ClientID:  "c1",
			Status:    models.StatusAwaitingProvider,
			Paid:      true,
			Version:   1,
			UpdatedAt: past,
		})
	}

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.PaidMismatch != 5 || res.Repaired != 5 {
		t.Errorf("result = %+v", res)
	}
	left, _ := f.store.Reservations().Find(ctx, repository.ReservationQuery{PaidMismatch: true})
	if len(left) != 0 {
		t.Errorf("%d reservations still mismatched", len(left))
	}
}

func TestConsistentDatasetNoWrites(t *testing.T) {
	f := newFixture(t, models.Provider{ID: "p1"})
	ctx := context.Background()
	f.store.PutReservation(models.Reservation{ID: "r1", ClientID: "c1", Status: models.StatusAwaitingProvider, Version: 1})
	before := f.store.Writes()

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.store.Writes() != before || res.Repaired != 0 {
		t.Errorf("consistent dataset: writes %d result %+v", f.store.Writes()-before, res)
	}
}

func TestCompletedUnpaidWithoutChargeRaisesAlert(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		authorized bool
	}{
		{"hold never captured", gateway.IntentRequiresCapture, true},
		{"intent canceled without hold", gateway.IntentCanceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.Provider{ID: "p1"})
			ctx := context.Background()
			r := drifted("r1")
			r.PaymentSecurity.ClientAuthorized = tt.authorized
			f.store.PutReservation(r)
			f.gw.Intents["pi_r1"] = &gateway.PaymentIntent{ID: "pi_r1", Status: tt.status, Amount: 10000, Currency: "eur"}

			res, err := f.svc.Sweep(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if res.AlertsRaised != 1 || res.Unresolved != 0 {
				t.Errorf("result = %+v", res)
			}
			alerts, _ := f.store.Alerts().List(ctx, repository.AlertQuery{Type: models.AlertReconciliationConflict})
			if len(alerts) != 1 || alerts[0].ReservationID != "r1" || alerts[0].Details["intentStatus"] != tt.status {
				t.Fatalf("conflict alerts = %+v", alerts)
			}

			writes := f.store.Writes()
			res, err = f.svc.Sweep(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if f.store.Writes() != writes || res.AlertsRaised != 0 {
				t.Errorf("second sweep: writes %d result %+v", f.store.Writes()-writes, res)
			}
			got, _ := f.store.Reservations().GetByID(ctx, "r1")
			if got.PaymentSecurity.ClientPaid || got.Version != 3 {
				t.Errorf("reservation was written: version %d", got.Version)
			}
		})
	}
}
