package reservation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/events"
	"homeclean/services/payerr"
	"homeclean/utils"
)

const pinLength = 4

// Get returns the reservation if a may see it.
func (m *Machine) Get(ctx context.Context, id string, a Actor) (*models.Reservation, error) {
	r, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(r, a) {
		return nil, payerr.New(payerr.Forbidden, "%s may not view reservation %s", a, id)
	}
	return r, nil
}

// Create opens a reservation awaiting a provider and returns it with its
// execution PIN. Only the PIN's hash is stored; the plain PIN is returned once.
func (m *Machine) Create(ctx context.Context, a Actor) (*models.Reservation, string, error) {
	if a.Role != RoleClient || a.ID == "" {
		return nil, "", payerr.New(payerr.Forbidden, "only clients create reservations")
	}
	pin, err := utils.GenerateNumericCode(pinLength)
	if err != nil {
		return nil, "", err
	}
	hash, err := utils.HashSecret(pin)
	if err != nil {
		return nil, "", err
	}
	now := m.now()
	r := &models.Reservation{
		ID:        uuid.New().String(),
		ClientID:  a.ID,
		Status:    models.StatusAwaitingProvider,
		Currency:  m.currency,
		PinHash:   hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.reservations.Create(ctx, r); err != nil {
		return nil, "", err
	}
	return r, pin, nil
}

func (m *Machine) AssignProvider(ctx context.Context, id, providerID string, a Actor) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpAssignProvider, func(r *models.Reservation, o *outcome) error {
		if a.Role == RoleProvider && a.ID != providerID {
			return payerr.New(payerr.Forbidden, "providers may only assign themselves")
		}
		if a.Role != RoleProvider {
			if err := authorize(r, a, RoleAdmin, RoleSystem); err != nil {
				return err
			}
		}
		if providerID == "" {
			return illegal(OpAssignProvider, "provider id required")
		}
		if err := requireStatus(OpAssignProvider, r); err != nil {
			return err
		}
		r.ProviderID = providerID
		r.Status = models.StatusAwaitingEstimate
		o.changed = true
		return nil
	})
}

// SubmitEstimate prices the job. The split is computed once here and stored.
func (m *Machine) SubmitEstimate(ctx context.Context, id string, total int64, a Actor) (*models.Reservation, error) {
	if total <= 0 {
		return nil, payerr.New(payerr.InvalidAmount, "estimate must be positive, got %d", total)
	}
	split, err := m.splitter.Split(total)
	if err != nil {
		return nil, err
	}
	return m.mutate(ctx, id, OpSubmitEstimate, func(r *models.Reservation, o *outcome) error {
		if err := authorize(r, a, RoleProvider, RoleAdmin); err != nil {
			return err
		}
		if err := requireStatus(OpSubmitEstimate, r); err != nil {
			return err
		}
		if r.PaymentSecurity.ClientAuthorized || r.PaymentSecurity.ClientPaid {
			return illegal(OpSubmitEstimate, "payment already secured")
		}
		if r.Pricing.TotalPrice == split.Total && r.Status == models.StatusEstimated {
			return nil
		}
		r.Pricing = models.Pricing{
			TotalPrice:    split.Total,
			ProviderShare: split.ProviderAmount,
			PlatformShare: split.Commission,
		}
		// A new price invalidates any open checkout.
		r.PaymentSecurity.StripeCheckoutSessionID = ""
		r.PaymentSecurity.StripePaymentIntentID = ""
		r.Status = models.StatusEstimated
		o.changed = true
		return nil
	})
}

// AttachCheckout records the checkout session opened for the client.
func (m *Machine) AttachCheckout(ctx context.Context, id, sessionID, paymentIntentID string) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpAttachCheckout, func(r *models.Reservation, o *outcome) error {
		if err := requireStatus(OpAttachCheckout, r); err != nil {
			return err
		}
		if r.PaymentSecurity.ClientAuthorized || r.PaymentSecurity.ClientPaid {
			return illegal(OpAttachCheckout, "payment already secured")
		}
		if r.PaymentSecurity.StripeCheckoutSessionID == sessionID && r.PaymentSecurity.StripePaymentIntentID == paymentIntentID {
			return nil
		}
		r.PaymentSecurity.StripeCheckoutSessionID = sessionID
		r.PaymentSecurity.StripePaymentIntentID = paymentIntentID
		o.changed = true
		return nil
	})
}

// PaymentEvidence is a provider-confirmed fact about the client's payment.
// Captured false means an authorize-only hold.
type PaymentEvidence struct {
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Currency        string
	PaymentMethod   string
	Captured        bool
	At              time.Time
}

// RecordClientPayment is the only path that sets clientAuthorized or clientPaid.
// On capture it first appends the charge PaymentLog (an existing one is fine)
// and then writes clientPaid together with paid. Recording the same intent twice
// is a no-op.
func (m *Machine) RecordClientPayment(ctx context.Context, id string, ev PaymentEvidence) (*models.Reservation, error) {
	if ev.PaymentIntentID == "" {
		return nil, illegal(OpRecordClientPayment, "payment intent id required")
	}
	return m.mutate(ctx, id, OpRecordClientPayment, func(r *models.Reservation, o *outcome) error {
		ps := &r.PaymentSecurity
		if ps.ClientPaid {
			if ps.StripePaymentIntentID == ev.PaymentIntentID {
				return nil
			}
			return illegal(OpRecordClientPayment, "already paid with %s, got %s", ps.StripePaymentIntentID, ev.PaymentIntentID)
		}
		if !ev.Captured && ps.ClientAuthorized && ps.StripePaymentIntentID == ev.PaymentIntentID {
			return nil
		}
		if ps.ClientAuthorized && ps.StripePaymentIntentID != ev.PaymentIntentID {
			return illegal(OpRecordClientPayment, "hold %s already in place, got %s", ps.StripePaymentIntentID, ev.PaymentIntentID)
		}
		if err := requireStatus(OpRecordClientPayment, r); err != nil {
			return err
		}
		if r.Fraud.Blocked {
			return illegal(OpRecordClientPayment, "reservation blocked")
		}
		if ev.Amount != r.Pricing.TotalPrice {
			return payerr.New(payerr.InvalidAmount, "payment %s of %d does not match price %d", ev.PaymentIntentID, ev.Amount, r.Pricing.TotalPrice)
		}
		if ev.Currency != "" && r.Currency != "" && !strings.EqualFold(ev.Currency, r.Currency) {
			return payerr.New(payerr.InvalidAmount, "payment currency %s, reservation in %s", ev.Currency, r.Currency)
		}

		at := ev.At
		if at.IsZero() {
			at = m.now()
		}
		ps.StripePaymentIntentID = ev.PaymentIntentID
		ps.ClientAuthorized = true
		ps.LastFailure = nil
		if r.Status == models.StatusEstimated {
			r.Status = models.StatusConfirmed
		}
		o.changed = true

		if !ev.Captured {
			return nil
		}
		if err := m.appendLog(ctx, r, models.PaymentKindCharge, models.PaymentCompleted, func(l *models.PaymentLog) {
			l.ChargeID = ev.ChargeID
			l.PaymentMethod = ev.PaymentMethod
			l.CreatedAt = at
		}); err != nil {
			return err
		}
		ps.ClientPaid = true
		ps.ClientPaymentID = ev.ChargeID
		ps.ClientPaymentDate = &at
		ps.Commission = r.Pricing.PlatformShare
		o.pendingDelta += r.Pricing.ProviderShare
		o.emit(events.PaymentRecorded)
		return nil
	})
}

// appendLog inserts one log for the reservation's intent. A log already present
// for the same intent and kind counts as success.
func (m *Machine) appendLog(ctx context.Context, r *models.Reservation, kind models.PaymentLogKind, status models.PaymentLogStatus, fill func(*models.PaymentLog)) error {
	l := &models.PaymentLog{
		ID:                    uuid.New().String(),
		Kind:                  kind,
		ReservationID:         r.ID,
		ClientID:              r.ClientID,
		ProviderID:            r.ProviderID,
		StripePaymentIntentID: r.PaymentSecurity.StripePaymentIntentID,
		TotalAmount:           r.Pricing.TotalPrice,
		Commission:            r.Pricing.PlatformShare,
		ProviderAmount:        r.Pricing.ProviderShare,
		Currency:              r.Currency,
		Status:                status,
		CreatedAt:             m.now(),
	}
	if fill != nil {
		fill(l)
	}
	err := m.logs.Insert(ctx, l)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

// RecordPaymentFailure keeps the provider's last decline on the reservation and
// drops a hold on the failed intent. Failures arriving after a capture are
// stale and ignored.
func (m *Machine) RecordPaymentFailure(ctx context.Context, id string, failure models.PaymentFailure) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpRecordPaymentFailure, func(r *models.Reservation, o *outcome) error {
		ps := &r.PaymentSecurity
		if ps.ClientPaid {
			return nil
		}
		if err := requireStatus(OpRecordPaymentFailure, r); err != nil {
			return err
		}
		if lf := ps.LastFailure; lf != nil && lf.PaymentIntentID == failure.PaymentIntentID && lf.Code == failure.Code {
			return nil
		}
		if failure.At.IsZero() {
			failure.At = m.now()
		}
		ps.LastFailure = &failure
		if ps.ClientAuthorized && ps.StripePaymentIntentID == failure.PaymentIntentID {
			ps.ClientAuthorized = false
		}
		o.changed = true
		return nil
	})
}

// ReleaseAuthorization clears a hold the provider cancelled. A confirmed
// reservation goes back to estimated so the client can pay again.
func (m *Machine) ReleaseAuthorization(ctx context.Context, id, paymentIntentID string) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpReleaseAuthorization, func(r *models.Reservation, o *outcome) error {
		ps := &r.PaymentSecurity
		if !ps.ClientAuthorized || ps.ClientPaid || ps.StripePaymentIntentID != paymentIntentID {
			return nil
		}
		if err := requireStatus(OpReleaseAuthorization, r); err != nil {
			return err
		}
		ps.ClientAuthorized = false
		if r.Status == models.StatusConfirmed {
			r.Status = models.StatusEstimated
			ps.StripePaymentIntentID = ""
			ps.StripeCheckoutSessionID = ""
		}
		o.changed = true
		return nil
	})
}

func (m *Machine) StartJob(ctx context.Context, id string, a Actor) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpStartJob, func(r *models.Reservation, o *outcome) error {
		if err := authorize(r, a, RoleProvider, RoleAdmin); err != nil {
			return err
		}
		if err := requireStatus(OpStartJob, r); err != nil {
			return err
		}
		if r.Fraud.Blocked {
			return illegal(OpStartJob, "reservation blocked")
		}
		r.Status = models.StatusInProgress
		o.changed = true
		return nil
	})
}

// ProofRecord is an accepted execution proof.
type ProofRecord struct {
	Type        models.ProofType
	Data        models.ProofData
	ValidatedBy Role
}

// ValidateExecution stamps the execution proof. The client payment must be
// captured first.
func (m *Machine) ValidateExecution(ctx context.Context, id string, proof ProofRecord) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpValidateExecution, func(r *models.Reservation, o *outcome) error {
		if err := requireStatus(OpValidateExecution, r); err != nil {
			return err
		}
		if r.Fraud.Blocked {
			return illegal(OpValidateExecution, "reservation blocked")
		}
		if r.ExecutionProof.Validated {
			return illegal(OpValidateExecution, "execution already validated")
		}
		if !r.PaymentSecurity.ClientPaid {
			return illegal(OpValidateExecution, "client payment not captured")
		}
		if proof.ValidatedBy != RoleClient && proof.ValidatedBy != RoleProvider {
			return payerr.New(payerr.InvalidProof, "validatedBy must be client or provider")
		}
		now := m.now()
		r.ExecutionProof = models.ExecutionProof{
			Validated:   true,
			ValidatedAt: &now,
			ValidatedBy: string(proof.ValidatedBy),
			ProofType:   proof.Type,
			ProofData:   proof.Data,
		}
		o.emit(events.ProofValidated)
		return nil
	})
}

func (m *Machine) Complete(ctx context.Context, id string, a Actor) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpComplete, func(r *models.Reservation, o *outcome) error {
		if err := authorize(r, a, RoleClient, RoleProvider, RoleAdmin, RoleSystem); err != nil {
			return err
		}
		if err := requireStatus(OpComplete, r); err != nil {
			return err
		}
		if !r.ExecutionProof.Validated {
			return illegal(OpComplete, "execution not validated")
		}
		if !r.PaymentSecurity.ClientPaid {
			return illegal(OpComplete, "client payment not captured")
		}
		now := m.now()
		r.Status = models.StatusCompleted
		r.CompletedAt = &now
		o.changed = true
		return nil
	})
}

// Cancel moves an open reservation to cancelled. Money already held or
// captured is settled by the caller afterwards.
func (m *Machine) Cancel(ctx context.Context, id, reason string, a Actor) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpCancel, func(r *models.Reservation, o *outcome) error {
		if err := authorize(r, a, RoleClient, RoleProvider, RoleAdmin, RoleSystem); err != nil {
			return err
		}
		if err := requireStatus(OpCancel, r); err != nil {
			return err
		}
		if r.ExecutionProof.Validated {
			return illegal(OpCancel, "service already performed")
		}
		if r.PaymentSecurity.ProviderPaid {
			return illegal(OpCancel, "provider already paid")
		}
		r.Status = models.StatusCancelled
		r.CancellationReason = reason
		r.CancelledBy = a.String()
		o.changed = true
		return nil
	})
}

func (m *Machine) Refuse(ctx context.Context, id, reason string, a Actor) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpRefuse, func(r *models.Reservation, o *outcome) error {
		if err := authorize(r, a, RoleProvider, RoleAdmin); err != nil {
			return err
		}
		if err := requireStatus(OpRefuse, r); err != nil {
			return err
		}
		if r.PaymentSecurity.ClientAuthorized || r.PaymentSecurity.ClientPaid {
			return illegal(OpRefuse, "payment already secured, cancel instead")
		}
		r.Status = models.StatusRefused
		r.RefusalReason = reason
		o.changed = true
		return nil
	})
}

// MarkRefunded records a full refund of a cancelled reservation's capture and
// appends its refund log.
func (m *Machine) MarkRefunded(ctx context.Context, id, refundID string) (*models.Reservation, error) {
	return m.mutate(ctx, id, OpMarkRefunded, func(r *models.Reservation, o *outcome) error {
		ps := &r.PaymentSecurity
		if ps.Refunded {
			if ps.RefundID == refundID {
				return nil
			}
			return illegal(OpMarkRefunded, "already refunded by %s", ps.RefundID)
		}
		if err := requireStatus(OpMarkRefunded, r); err != nil {
			return err
		}
		if !ps.ClientPaid {
			return illegal(OpMarkRefunded, "nothing captured")
		}
		if ps.ProviderPaid {
			return illegal(OpMarkRefunded, "provider already paid")
		}
		if err := m.appendLog(ctx, r, models.PaymentKindRefund, models.PaymentRefunded, func(l *models.PaymentLog) {
			l.RefundID = refundID
		}); err != nil {
			return err
		}
		now := m.now()
		ps.Refunded = true
		ps.RefundID = refundID
		ps.RefundedAt = &now
		o.pendingDelta -= r.Pricing.ProviderShare
		o.emit(events.Refunded)
		return nil
	})
}

// ConfirmProviderPayout marks the provider paid with transferID and appends
// the payout log. Proof validation must have happened first.
func (m *Machine) ConfirmProviderPayout(ctx context.Context, id, transferID string) (*models.Reservation, error) {
	if transferID == "" {
		return nil, illegal(OpConfirmPayout, "transfer id required")
	}
	return m.mutate(ctx, id, OpConfirmPayout, func(r *models.Reservation, o *outcome) error {
		ps := &r.PaymentSecurity
		if ps.ProviderPaid {
			if ps.ProviderPaymentID == transferID {
				return nil
			}
			return illegal(OpConfirmPayout, "provider already paid by %s", ps.ProviderPaymentID)
		}
		if err := requireStatus(OpConfirmPayout, r); err != nil {
			return err
		}
		if !r.ExecutionProof.Validated {
			return illegal(OpConfirmPayout, "execution not validated")
		}
		if !ps.ClientPaid {
			return illegal(OpConfirmPayout, "client payment not captured")
		}
		if r.Fraud.Blocked {
			return illegal(OpConfirmPayout, "reservation blocked")
		}
		if err := m.appendLog(ctx, r, models.PaymentKindPayout, models.PaymentCompleted, func(l *models.PaymentLog) {
			l.TransferID = transferID
		}); err != nil {
			return err
		}
		now := m.now()
		ps.ProviderPaid = true
		ps.ProviderPaymentID = transferID
		ps.ProviderPaymentDate = &now
		ps.CommissionPaid = true
		o.pendingDelta -= r.Pricing.ProviderShare
		o.paidDelta += r.Pricing.ProviderShare
		o.emit(events.PayoutCompleted)
		return nil
	})
}

// SyncLegacyPaid repairs paid != clientPaid. No-op when they agree.
func (m *Machine) SyncLegacyPaid(ctx context.Context, id string) (*models.Reservation, error) {
	return m.mutate(ctx, id, "syncLegacyPaid", func(r *models.Reservation, o *outcome) error {
		if r.Paid != r.PaymentSecurity.ClientPaid {
			o.changed = true
		}
		return nil
	})
}

// NormalizeStatus rewrites a legacy status spelling to its canonical value.
func (m *Machine) NormalizeStatus(ctx context.Context, id string) (*models.Reservation, error) {
	return m.mutate(ctx, id, "normalizeStatus", func(r *models.Reservation, o *outcome) error {
		if r.Status.Valid() {
			return nil
		}
		s, ok := models.NormalizeStatus(string(r.Status))
		if !ok {
			return illegal("normalizeStatus", "unknown status %q", r.Status)
		}
		r.Status = s
		o.changed = true
		return nil
	})
}
