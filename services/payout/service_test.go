package payout

import (
	"context"
	"errors"
	"testing"

	"homeclean/database/repository"
	"homeclean/database/repository/memory"
	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/commission"
	"homeclean/services/gateway/gatewaytest"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
)

var (
	client   = reservation.Actor{ID: "c1", Role: reservation.RoleClient}
	provider = reservation.Actor{ID: "p1", Role: reservation.RoleProvider}
)

type fixture struct {
	store   *memory.Store
	machine *reservation.Machine
	gateway *gatewaytest.Fake
	payouts *Service
}

func newFixture(t *testing.T, env Environment, p models.Provider) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProvider(p)
	splitter, err := commission.NewSplitter(commission.DefaultRate)
	if err != nil {
		t.Fatal(err)
	}
	m := reservation.NewMachine(store.Reservations(), store.PaymentLogs(), store.Providers(), splitter)
	gw := gatewaytest.New()
	alerts := alert.NewService(store.Alerts(), nil, nil)
	return &fixture{
		store:   store,
		machine: m,
		gateway: gw,
		payouts: NewService(m, store.Providers(), gw, alerts, env, nil),
	}
}

// validated drives a reservation through capture and proof.
func (f *fixture) validated(t *testing.T) *models.Reservation {
	t.Helper()
	ctx := context.Background()
	r, _, err := f.machine.Create(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	steps := []func() error{
		func() error { _, err := f.machine.AssignProvider(ctx, r.ID, "p1", provider); return err },
		func() error { _, err := f.machine.SubmitEstimate(ctx, r.ID, 10000, provider); return err },
		func() error {
			_, err := f.machine.RecordClientPayment(ctx, r.ID, reservation.PaymentEvidence{
				PaymentIntentID: "pi_" + r.ID, ChargeID: "ch_" + r.ID, Amount: 10000, Captured: true,
			})
			return err
		},
		func() error {
			_, err := f.machine.ValidateExecution(ctx, r.ID, reservation.ProofRecord{Type: models.ProofPIN, ValidatedBy: reservation.RoleClient})
			return err
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	r, _ = f.store.Reservations().GetByID(ctx, r.ID)
	return r
}

func verifiedProvider() models.Provider {
	return models.Provider{ID: "p1", PaymentDetails: models.PaymentDetails{StripeAccountID: "acct_1", StripeVerified: true}}
}

func openAlerts(t *testing.T, f *fixture, typ models.AlertType) []models.AlertLog {
	t.Helper()
	list, err := f.store.Alerts().List(context.Background(), repository.AlertQuery{Type: typ, Resolved: repository.Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestPayTransfersProviderShare(t *testing.T) {
	f := newFixture(t, Live, verifiedProvider())
	f.gateway.Verify("acct_1")
	r := f.validated(t)

	got, err := f.payouts.Pay(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Pay() error: %v", err)
	}
	if !got.PaymentSecurity.ProviderPaid || got.PaymentSecurity.ProviderPaymentID == "" {
		t.Errorf("payment security = %+v", got.PaymentSecurity)
	}
	if len(f.gateway.Transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(f.gateway.Transfers))
	}
	tr := f.gateway.Transfers[0]
	if tr.Amount != 8000 || tr.Destination != "acct_1" || tr.TransferGroup != r.ID || tr.IdempotencyKey != "payout-"+r.ID {
		t.Errorf("transfer = %+v", tr)
	}
	if tr.SourceTransaction != "ch_"+r.ID {
		t.Errorf("live source transaction = %q, want the charge", tr.SourceTransaction)
	}

	p, _ := f.store.Providers().GetByID(context.Background(), "p1")
	if p.Earnings.Pending != 0 || p.Earnings.Paid != 8000 {
		t.Errorf("earnings = %+v", p.Earnings)
	}

	// Paying again is a no-op.
	if _, err := f.payouts.Pay(context.Background(), r.ID); err != nil {
		t.Fatalf("second Pay() error: %v", err)
	}
	if len(f.gateway.Transfers) != 1 {
		t.Errorf("transfers after replay = %d, want 1", len(f.gateway.Transfers))
	}
}

func TestPayTestModeUsesBalance(t *testing.T) {
	f := newFixture(t, EnvironmentFor("test"), verifiedProvider())
	f.gateway.Verify("acct_1")
	r := f.validated(t)
	if _, err := f.payouts.Pay(context.Background(), r.ID); err != nil {
		t.Fatalf("Pay() error: %v", err)
	}
	if src := f.gateway.Transfers[0].SourceTransaction; src != "" {
		t.Errorf("test mode source transaction = %q, want empty", src)
	}
}

func TestPayMissingDestination(t *testing.T) {
	tests := []struct {
		name     string
		provider models.Provider
	}{
		{"no account", models.Provider{ID: "p1"}},
		{"unverified account", models.Provider{ID: "p1", PaymentDetails: models.PaymentDetails{StripeAccountID: "acct_1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Test, tt.provider)
			r := f.validated(t)

			_, err := f.payouts.Pay(context.Background(), r.ID)
			if !errors.Is(err, payerr.ErrPayoutDestinationMissing) {
				t.Fatalf("Pay() error = %v, want PayoutDestinationMissing", err)
			}
			if n := len(f.gateway.Transfers); n != 0 {
				t.Errorf("transfers = %d, want 0", n)
			}
			alerts := openAlerts(t, f, models.AlertMissingProvider)
			if len(alerts) != 1 || alerts[0].Amount != 8000 {
				t.Fatalf("missing_provider alerts = %+v", alerts)
			}

			// A second failing attempt does not duplicate the alert.
			f.payouts.Pay(context.Background(), r.ID)
			if n := len(openAlerts(t, f, models.AlertMissingProvider)); n != 1 {
				t.Errorf("open alerts after retry = %d, want 1", n)
			}

			// Once the provider is verified, the payout goes through and the alert closes.
			f.store.PutProvider(verifiedProvider())
			f.gateway.Verify("acct_1")
			if _, err := f.payouts.Pay(context.Background(), r.ID); err != nil {
				t.Fatalf("Pay() after verification: %v", err)
			}
			if n := len(openAlerts(t, f, models.AlertMissingProvider)); n != 0 {
				t.Errorf("open alerts after payout = %d, want 0", n)
			}
		})
	}
}

func TestPayTransferFailureRaisesAlert(t *testing.T) {
	f := newFixture(t, Test, verifiedProvider())
	f.gateway.Verify("acct_1")
	f.gateway.TransferErr = errors.New("stripe transfer: 500")
	r := f.validated(t)

	_, err := f.payouts.Pay(context.Background(), r.ID)
	if !errors.Is(err, payerr.ErrPayoutFailed) {
		t.Fatalf("Pay() error = %v, want PayoutFailed", err)
	}
	after, _ := f.store.Reservations().GetByID(context.Background(), r.ID)
	if after.PaymentSecurity.ProviderPaid || !after.PaymentSecurity.ClientPaid {
		t.Errorf("payment security = %+v", after.PaymentSecurity)
	}
	alerts := openAlerts(t, f, models.AlertTransferFailed)
	if len(alerts) != 1 || alerts[0].Severity != models.SeverityCritical {
		t.Errorf("transfer_failed alerts = %+v", alerts)
	}
}

func TestPayRequiresValidatedProof(t *testing.T) {
	f := newFixture(t, Test, verifiedProvider())
	f.gateway.Verify("acct_1")
	ctx := context.Background()
	r, _, _ := f.machine.Create(ctx, client)

	_, err := f.payouts.Pay(ctx, r.ID)
	if !errors.Is(err, payerr.ErrIllegalTransition) {
		t.Errorf("Pay() error = %v, want IllegalTransition", err)
	}
	if len(f.gateway.Transfers) != 0 {
		t.Error("transfer attempted before proof")
	}
}
