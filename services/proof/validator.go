// Package proof accepts or rejects execution proofs. Rejections count as
// bypass attempts; an accepted proof on a held payment captures it first.
package proof

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"homeclean/models"
	"homeclean/services/gateway"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
	"homeclean/services/storage"
	"homeclean/utils"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// Submission is a proof as sent by the client or provider.
type Submission struct {
	Type            models.ProofType `json:"type"`
	PIN             string           `json:"pin,omitempty"`
	Photos          []string         `json:"photos,omitempty"`
	ClientConfirmed bool             `json:"clientConfirmed,omitempty"`
}

// Settler releases or refunds the client's money after a forced cancellation.
type Settler interface {
	SettleCancellation(ctx context.Context, r *models.Reservation) error
}

// PayoutTrigger starts the provider payout once a proof is accepted.
type PayoutTrigger interface {
	TriggerPayout(ctx context.Context, reservationID string) error
}

type Validator struct {
	machine *reservation.Machine
	gateway gateway.PaymentGateway
	photos  storage.PhotoStore
	settler Settler
	payouts PayoutTrigger
	logger  *zap.Logger
}

type Option func(*Validator)

func WithSettler(s Settler) Option {
	return func(v *Validator) { v.settler = s }
}

func WithPayoutTrigger(p PayoutTrigger) Option {
	return func(v *Validator) { v.payouts = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator builds a Validator. photos may be nil, in which case photo
// references are accepted without lookup.
func NewValidator(m *reservation.Machine, gw gateway.PaymentGateway, photos storage.PhotoStore, opts ...Option) *Validator {
	v := &Validator{machine: m, gateway: gw, photos: photos, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks sub against reservation id on behalf of a.
func (v *Validator) Validate(ctx context.Context, id string, sub Submission, a reservation.Actor) (*models.Reservation, error) {
	if a.Role != reservation.RoleClient && a.Role != reservation.RoleProvider {
		return nil, payerr.New(payerr.Forbidden, "only the client or the provider submit proofs")
	}
	r, err := v.machine.Get(ctx, id, a)
	if err != nil {
		return nil, err
	}
	if r.Fraud.Blocked {
		return nil, payerr.New(payerr.IllegalTransition, "reservation %s is blocked", id)
	}
	if r.ExecutionProof.Validated {
		return nil, payerr.New(payerr.IllegalTransition, "execution of %s already validated", id)
	}
	if !reservation.CanApply(reservation.OpValidateExecution, r.Status) {
		return nil, payerr.New(payerr.IllegalTransition, "proof not accepted while %s", r.Status)
	}
	if !r.PaymentSecurity.ClientAuthorized {
		return nil, payerr.New(payerr.IllegalTransition, "client payment not secured")
	}

	data, reason, err := v.check(ctx, r, sub, a)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, v.reject(ctx, r, sub, reason, a)
	}

	if r.HasHold() {
		if err := v.capture(ctx, r); err != nil {
			return nil, err
		}
	}

	validated, err := v.machine.ValidateExecution(ctx, id, reservation.ProofRecord{
		Type:        sub.Type,
		Data:        data,
		ValidatedBy: a.Role,
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("Execution proof accepted",
		zap.String("reservationId", id),
		zap.String("proofType", string(sub.Type)),
		zap.String("validatedBy", string(a.Role)))

	if v.payouts != nil {
		if err := v.payouts.TriggerPayout(ctx, id); err != nil {
			v.logger.Error("Failed to trigger payout",
				zap.String("reservationId", id), zap.Error(err))
		}
	}
	return validated, nil
}

// check returns the proof data to store, or a non-empty reason when the
// submission is not acceptable.
func (v *Validator) check(ctx context.Context, r *models.Reservation, sub Submission, a reservation.Actor) (models.ProofData, string, error) {
	switch sub.Type {
	case models.ProofPIN:
		if !pinPattern.MatchString(sub.PIN) {
			return models.ProofData{}, "pin is not 4 digits", nil
		}
		if r.PinHash == "" || !utils.CompareSecret(r.PinHash, sub.PIN) {
			return models.ProofData{}, "pin mismatch", nil
		}
		return models.ProofData{}, "", nil

	case models.ProofPhotos:
		if len(sub.Photos) == 0 {
			return models.ProofData{}, "no photos", nil
		}
		refs := make([]string, 0, len(sub.Photos))
		for _, p := range sub.Photos {
			p = strings.TrimSpace(p)
			if p == "" {
				return models.ProofData{}, "empty photo reference", nil
			}
			if v.photos != nil {
				ok, err := v.photos.Exists(ctx, p)
				if err != nil {
					return models.ProofData{}, "", fmt.Errorf("verify photo %s: %w", p, err)
				}
				if !ok {
					return models.ProofData{}, "unknown photo " + p, nil
				}
			}
			refs = append(refs, p)
		}
		return models.ProofData{Photos: refs}, "", nil

	case models.ProofClientConfirmation:
		if a.Role != reservation.RoleClient {
			return models.ProofData{}, "confirmation not sent by the client", nil
		}
		if !sub.ClientConfirmed {
			return models.ProofData{}, "confirmation flag not set", nil
		}
		return models.ProofData{ClientConfirmed: true}, "", nil
	}
	return models.ProofData{}, fmt.Sprintf("unknown proof type %q", sub.Type), nil
}

func (v *Validator) reject(ctx context.Context, r *models.Reservation, sub Submission, reason string, a reservation.Actor) error {
	kind := "invalid_" + string(sub.Type)
	if sub.Type == "" {
		kind = "invalid_proof"
	}
	updated, blocked, err := v.machine.RecordBypassAttempt(ctx, r.ID, kind, reason, a)
	if err != nil {
		v.logger.Error("Failed to record bypass attempt",
			zap.String("reservationId", r.ID), zap.Error(err))
	}
	v.logger.Warn("Execution proof rejected",
		zap.String("reservationId", r.ID),
		zap.String("proofType", string(sub.Type)),
		zap.String("reason", reason),
		zap.String("origin", a.Origin),
		zap.Bool("blocked", blocked))

	if blocked && v.settler != nil {
		if err := v.settler.SettleCancellation(ctx, updated); err != nil {
			v.logger.Error("Failed to settle blocked reservation",
				zap.String("reservationId", r.ID), zap.Error(err))
		}
	}
	return payerr.New(payerr.InvalidProof, "%s", reason)
}

// capture takes the held funds. Nothing on the reservation changes when the
// provider refuses.
func (v *Validator) capture(ctx context.Context, r *models.Reservation) error {
	intent := r.PaymentSecurity.StripePaymentIntentID
	c, err := v.gateway.CapturePayment(ctx, intent, "capture-"+r.ID)
	if err != nil {
		v.logger.Warn("Capture failed",
			zap.String("reservationId", r.ID),
			zap.String("paymentIntentId", intent),
			zap.Error(err))
		return payerr.Wrap(payerr.CaptureFailed, err, "capture of %s failed", intent)
	}
	_, err = v.machine.RecordClientPayment(ctx, r.ID, reservation.PaymentEvidence{
		PaymentIntentID: c.PaymentIntentID,
		ChargeID:        c.ChargeID,
		Amount:          c.Amount,
		Currency:        c.Currency,
		PaymentMethod:   c.PaymentMethod,
		Captured:        true,
	})
	return err
}
