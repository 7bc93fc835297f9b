package proof

import (
	"context"
	"errors"
	"testing"
	"time"

	"homeclean/database/repository/memory"
	"homeclean/models"
	"homeclean/services/commission"
	"homeclean/services/gateway/gatewaytest"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
)

type fakePhotos map[string]bool

func (f fakePhotos) Exists(ctx context.Context, ref string) (bool, error) { return f[ref], nil }
func (f fakePhotos) SignedURL(ref string, expires time.Duration) string  { return ref }

type recordingSettler struct{ settled []string }

func (s *recordingSettler) SettleCancellation(ctx context.Context, r *models.Reservation) error {
	s.settled = append(s.settled, r.ID)
	return nil
}

type recordingTrigger struct{ ids []string }

func (p *recordingTrigger) TriggerPayout(ctx context.Context, id string) error {
	p.ids = append(p.ids, id)
	return nil
}

var (
	client   = reservation.Actor{ID: "c1", Role: reservation.RoleClient, Origin: "10.0.0.1"}
	provider = reservation.Actor{ID: "p1", Role: reservation.RoleProvider, Origin: "10.0.0.2"}
)

type fixture struct {
	store     *memory.Store
	machine   *reservation.Machine
	gateway   *gatewaytest.Fake
	settler   *recordingSettler
	trigger   *recordingTrigger
	validator *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProvider(models.Provider{ID: "p1"})
	splitter, err := commission.NewSplitter(commission.DefaultRate)
	if err != nil {
		t.Fatal(err)
	}
	m := reservation.NewMachine(store.Reservations(), store.PaymentLogs(), store.Providers(), splitter)
	f := &fixture{
		store:   store,
		machine: m,
		gateway: gatewaytest.New(),
		settler: &recordingSettler{},
		trigger: &recordingTrigger{},
	}
	f.validator = NewValidator(m, f.gateway, fakePhotos{"proofs/kitchen": true},
		WithSettler(f.settler), WithPayoutTrigger(f.trigger))
	return f
}

// held creates a reservation with an authorized 100.00 hold and returns it
// with its PIN.
func (f *fixture) held(t *testing.T) (*models.Reservation, string) {
	t.Helper()
	ctx := context.Background()
	r, pin, err := f.machine.Create(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.machine.AssignProvider(ctx, r.ID, "p1", provider); err != nil {
		t.Fatal(err)
	}
	if _, err := f.machine.SubmitEstimate(ctx, r.ID, 10000, provider); err != nil {
		t.Fatal(err)
	}
	intent := "pi_" + r.ID
	r, err = f.machine.RecordClientPayment(ctx, r.ID, reservation.PaymentEvidence{PaymentIntentID: intent, Amount: 10000})
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.Hold(intent, 10000, nil)
	return r, pin
}

func wrongPIN(pin string) string {
	if pin == "0000" {
		return "1111"
	}
	return "0000"
}

func TestValidPINCapturesAndValidates(t *testing.T) {
	f := newFixture(t)
	r, pin := f.held(t)

	got, err := f.validator.Validate(context.Background(), r.ID, Submission{Type: models.ProofPIN, PIN: pin}, provider)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !got.ExecutionProof.Validated || got.ExecutionProof.ValidatedBy != "provider" {
		t.Errorf("execution proof = %+v", got.ExecutionProof)
	}
	if !got.PaymentSecurity.ClientPaid || !got.Paid {
		t.Error("held payment not recorded as captured")
	}
	if captures, _ := f.gateway.Calls(); captures != 1 {
		t.Errorf("captures = %d, want 1", captures)
	}
	if len(f.trigger.ids) != 1 || f.trigger.ids[0] != r.ID {
		t.Errorf("payout triggers = %v", f.trigger.ids)
	}
	p, _ := f.store.Providers().GetByID(context.Background(), "p1")
	if p.Earnings.Pending != 8000 {
		t.Errorf("pending earnings = %d, want 8000", p.Earnings.Pending)
	}
}

func TestCaptureFailureLeavesProofUntouched(t *testing.T) {
	f := newFixture(t)
	r, pin := f.held(t)
	f.gateway.CaptureErr = errors.New("card_declined")

	_, err := f.validator.Validate(context.Background(), r.ID, Submission{Type: models.ProofPIN, PIN: pin}, provider)
	if !errors.Is(err, payerr.ErrCaptureFailed) {
		t.Fatalf("Validate() error = %v, want CaptureFailed", err)
	}
	after, _ := f.store.Reservations().GetByID(context.Background(), r.ID)
	if after.ExecutionProof.Validated || after.PaymentSecurity.ClientPaid || len(after.Fraud.BypassAttempts) != 0 {
		t.Errorf("reservation changed after failed capture: %+v", after)
	}
	if after.Version != r.Version {
		t.Errorf("version = %d, want %d", after.Version, r.Version)
	}
}

func TestInvalidProofs(t *testing.T) {
	tests := []struct {
		name  string
		sub   func(pin string) Submission
		actor reservation.Actor
	}{
		{"wrong pin", func(pin string) Submission { return Submission{Type: models.ProofPIN, PIN: wrongPIN(pin)} }, provider},
		{"short pin", func(string) Submission { return Submission{Type: models.ProofPIN, PIN: "12"} }, provider},
		{"no photos", func(string) Submission { return Submission{Type: models.ProofPhotos} }, provider},
		{"unknown photo", func(string) Submission {
			return Submission{Type: models.ProofPhotos, Photos: []string{"proofs/elsewhere"}}
		}, provider},
		{"confirmation from provider", func(string) Submission {
			return Submission{Type: models.ProofClientConfirmation, ClientConfirmed: true}
		}, provider},
		{"confirmation flag unset", func(string) Submission { return Submission{Type: models.ProofClientConfirmation} }, client},
		{"unknown type", func(string) Submission { return Submission{Type: "selfie"} }, client},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r, pin := f.held(t)

			_, err := f.validator.Validate(context.Background(), r.ID, tt.sub(pin), tt.actor)
			if !errors.Is(err, payerr.ErrInvalidProof) {
				t.Fatalf("Validate() error = %v, want InvalidProof", err)
			}
			after, _ := f.store.Reservations().GetByID(context.Background(), r.ID)
			if len(after.Fraud.BypassAttempts) != 1 {
				t.Errorf("bypass attempts = %d, want 1", len(after.Fraud.BypassAttempts))
			}
			if after.Fraud.BypassAttempts[0].Origin != tt.actor.Origin {
				t.Errorf("origin = %q", after.Fraud.BypassAttempts[0].Origin)
			}
			if after.ExecutionProof.Validated {
				t.Error("invalid proof validated the execution")
			}
		})
	}
}

func TestPhotosAndClientConfirmation(t *testing.T) {
	f := newFixture(t)
	r, _ := f.held(t)
	got, err := f.validator.Validate(context.Background(), r.ID,
		Submission{Type: models.ProofPhotos, Photos: []string{"proofs/kitchen"}}, provider)
	if err != nil {
		t.Fatalf("Validate(photos) error: %v", err)
	}
	if len(got.ExecutionProof.ProofData.Photos) != 1 {
		t.Errorf("proof data = %+v", got.ExecutionProof.ProofData)
	}

	r2, _ := f.held(t)
	got, err = f.validator.Validate(context.Background(), r2.ID,
		Submission{Type: models.ProofClientConfirmation, ClientConfirmed: true}, client)
	if err != nil {
		t.Fatalf("Validate(confirmation) error: %v", err)
	}
	if got.ExecutionProof.ValidatedBy != "client" || !got.ExecutionProof.ProofData.ClientConfirmed {
		t.Errorf("execution proof = %+v", got.ExecutionProof)
	}
}

func TestThreeInvalidProofsBlock(t *testing.T) {
	f := newFixture(t)
	r, pin := f.held(t)
	ctx := context.Background()

	for i := 0; i < reservation.BypassThreshold; i++ {
		_, err := f.validator.Validate(ctx, r.ID, Submission{Type: models.ProofPIN, PIN: wrongPIN(pin)}, provider)
		if !errors.Is(err, payerr.ErrInvalidProof) {
			t.Fatalf("attempt %d: error = %v", i+1, err)
		}
	}
	after, _ := f.store.Reservations().GetByID(ctx, r.ID)
	if !after.Fraud.Blocked || after.Status != models.StatusCancelled {
		t.Fatalf("fraud = %+v status = %s", after.Fraud, after.Status)
	}
	if len(f.settler.settled) != 1 {
		t.Errorf("settlements = %v, want one", f.settler.settled)
	}

	// The right PIN no longer helps.
	_, err := f.validator.Validate(ctx, r.ID, Submission{Type: models.ProofPIN, PIN: pin}, provider)
	if !errors.Is(err, payerr.ErrIllegalTransition) {
		t.Errorf("fourth submission error = %v, want IllegalTransition", err)
	}
	if captures, _ := f.gateway.Calls(); captures != 0 {
		t.Errorf("captures = %d, want 0", captures)
	}
}

func TestStrangerCannotSubmit(t *testing.T) {
	f := newFixture(t)
	r, pin := f.held(t)
	_, err := f.validator.Validate(context.Background(), r.ID,
		Submission{Type: models.ProofPIN, PIN: pin}, reservation.Actor{ID: "p9", Role: reservation.RoleProvider})
	if !errors.Is(err, payerr.ErrForbidden) {
		t.Errorf("error = %v, want Forbidden", err)
	}
}
