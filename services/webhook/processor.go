// Package webhook ingests signed Stripe events and applies them through the
// same reservation transitions the API uses.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/gateway"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
)

const (
	CheckoutSessionCompleted       = "checkout.session.completed"
	PaymentIntentCapturableUpdated = "payment_intent.amount_capturable_updated"
	PaymentIntentSucceeded         = "payment_intent.succeeded"
	PaymentIntentFailed            = "payment_intent.payment_failed"
	PaymentIntentCanceled          = "payment_intent.canceled"
	TransferCreated                = "transfer.created"
	AccountUpdated                 = "account.updated"
	AccountDeauthorized            = "account.application.deauthorized"
)

// errIgnored marks an event that is well formed but concerns nothing we track.
var errIgnored = errors.New("webhook: nothing to apply")

type Processor struct {
	secret       string
	machine      *reservation.Machine
	reservations repository.ReservationRepository
	providers    repository.ProviderRepository
	alerts       *alert.Service
	cache        EventCache
	logger       *zap.Logger
}

func NewProcessor(
	secret string,
	machine *reservation.Machine,
	reservations repository.ReservationRepository,
	providers repository.ProviderRepository,
	alerts *alert.Service,
	cache EventCache,
	logger *zap.Logger,
) *Processor {
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		secret:       secret,
		machine:      machine,
		reservations: reservations,
		providers:    providers,
		alerts:       alerts,
		cache:        cache,
		logger:       logger,
	}
}

// Process verifies and applies one delivery. A nil return means the event is
// durably handled or classified and must be acknowledged. InvalidSignature
// means reject; any other error means the alert for a failed event could not
// be written and the delivery should be retried.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		p.logger.Warn("Rejected webhook with bad signature", zap.Error(err))
		return payerr.Wrap(payerr.InvalidSignature, err, "stripe signature")
	}

	log := p.logger.With(zap.String("eventId", event.ID), zap.String("eventType", string(event.Type)))
	if seen, err := p.cache.Seen(ctx, event.ID); err != nil {
		log.Warn("Processed-event cache unavailable", zap.Error(err))
	} else if seen {
		log.Debug("Event already processed")
		return nil
	}

	ref, err := p.apply(ctx, event)
	switch {
	case err == nil:
		log.Info("Webhook event applied", zap.String("reservationId", ref))
	case errors.Is(err, errIgnored):
		log.Debug("Webhook event ignored", zap.String("reason", err.Error()))
	default:
		if _, aerr := p.alerts.Raise(ctx, models.AlertLog{
			Type:          models.AlertWebhookProcessingError,
			Severity:      models.SeverityHigh,
			Reference:     event.ID,
			ReservationID: ref,
			Message:       "webhook event could not be applied",
			Details: map[string]string{
				"eventId":   event.ID,
				"eventType": string(event.Type),
				"error":     err.Error(),
			},
		}); aerr != nil {
			log.Error("Failed to record webhook failure", zap.Error(err), zap.NamedError("alertError", aerr))
			return fmt.Errorf("event %s: %w", event.ID, aerr)
		}
	}

	if err := p.cache.MarkProcessed(ctx, event.ID); err != nil {
		log.Warn("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// apply routes the event and returns the reservation it concerned, if known.
func (p *Processor) apply(ctx context.Context, event stripe.Event) (string, error) {
	switch event.Type {
	case CheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := decode(event, &s); err != nil {
			return "", err
		}
		return p.onCheckoutCompleted(ctx, &s)

	case PaymentIntentCapturableUpdated, PaymentIntentSucceeded, PaymentIntentFailed, PaymentIntentCanceled:
		var pi stripe.PaymentIntent
		if err := decode(event, &pi); err != nil {
			return "", err
		}
		return p.onPaymentIntent(ctx, string(event.Type), &pi)

	case TransferCreated:
		var t stripe.Transfer
		if err := decode(event, &t); err != nil {
			return "", err
		}
		return p.onTransfer(ctx, &t)

	case AccountUpdated:
		var acct stripe.Account
		if err := decode(event, &acct); err != nil {
			return "", err
		}
		return "", p.setVerified(ctx, acct.ID, gateway.AccountVerified(&acct))

	case AccountDeauthorized:
		return "", p.setVerified(ctx, event.Account, false)
	}
	return "", fmt.Errorf("%w: unhandled type %s", errIgnored, event.Type)
}

func decode(event stripe.Event, v interface{}) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	return nil
}

func (p *Processor) onCheckoutCompleted(ctx context.Context, s *stripe.CheckoutSession) (string, error) {
	id := s.Metadata["reservationId"]
	if id == "" {
		id = s.ClientReferenceID
	}
	if id == "" {
		return "", fmt.Errorf("%w: checkout session %s without reservation", errIgnored, s.ID)
	}
	if s.PaymentIntent == nil || s.PaymentIntent.ID == "" {
		return id, fmt.Errorf("checkout session %s has no payment intent", s.ID)
	}
	_, err := p.machine.RecordClientPayment(ctx, id, reservation.PaymentEvidence{
		PaymentIntentID: s.PaymentIntent.ID,
		Amount:          s.AmountTotal,
		Currency:        string(s.Currency),
		Captured:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid && s.PaymentIntent.Status == stripe.PaymentIntentStatusSucceeded,
	})
	return id, err
}

func (p *Processor) onPaymentIntent(ctx context.Context, eventType string, spi *stripe.PaymentIntent) (string, error) {
	pi := gateway.FromStripePaymentIntent(spi)
	id, err := p.reservationFor(ctx, pi.ID, pi.Metadata)
	if err != nil {
		return "", err
	}

	switch eventType {
	case PaymentIntentCapturableUpdated:
		_, err = p.machine.RecordClientPayment(ctx, id, reservation.PaymentEvidence{
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Currency:        pi.Currency,
			PaymentMethod:   pi.PaymentMethod,
		})
	case PaymentIntentSucceeded:
		_, err = p.machine.RecordClientPayment(ctx, id, reservation.PaymentEvidence{
			PaymentIntentID: pi.ID,
			ChargeID:        pi.ChargeID,
			Amount:          pi.AmountReceived,
			Currency:        pi.Currency,
			PaymentMethod:   pi.PaymentMethod,
			Captured:        true,
		})
	case PaymentIntentFailed:
		f := models.PaymentFailure{PaymentIntentID: pi.ID, At: time.Now()}
		if spi.LastPaymentError != nil {
			f.Code = string(spi.LastPaymentError.Code)
			f.Message = spi.LastPaymentError.Msg
		}
		_, err = p.machine.RecordPaymentFailure(ctx, id, f)
	case PaymentIntentCanceled:
		_, err = p.machine.ReleaseAuthorization(ctx, id, pi.ID)
	}
	return id, err
}

// reservationFor finds the reservation an intent belongs to, by metadata first
// and by the stored intent id otherwise.
func (p *Processor) reservationFor(ctx context.Context, intentID string, metadata map[string]string) (string, error) {
	if id := metadata["reservationId"]; id != "" {
		return id, nil
	}
	r, err := p.reservations.GetByPaymentIntent(ctx, intentID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: intent %s matches no reservation", errIgnored, intentID)
	}
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (p *Processor) onTransfer(ctx context.Context, t *stripe.Transfer) (string, error) {
	id := t.Metadata["reservationId"]
	if id == "" {
		id = t.TransferGroup
	}
	if id == "" {
		return "", fmt.Errorf("%w: transfer %s without reservation", errIgnored, t.ID)
	}
	if _, err := p.machine.ConfirmProviderPayout(ctx, id, t.ID); err != nil {
		return id, err
	}
	for _, typ := range []models.AlertType{models.AlertMissingProvider, models.AlertTransferFailed} {
		if err := p.alerts.ResolveOpen(ctx, typ, id, "transfer "+t.ID+" created"); err != nil {
			p.logger.Warn("Failed to auto-resolve alert", zap.String("reservationId", id), zap.Error(err))
		}
	}
	return id, nil
}

func (p *Processor) setVerified(ctx context.Context, accountID string, verified bool) error {
	if accountID == "" {
		return fmt.Errorf("%w: account event without account", errIgnored)
	}
	prov, err := p.providers.GetByStripeAccount(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: account %s belongs to no provider", errIgnored, accountID)
	}
	if err != nil {
		return err
	}
	if prov.PaymentDetails.StripeVerified == verified {
		return nil
	}
	if err := p.providers.SetPayoutVerified(ctx, prov.ID, verified); err != nil {
		return err
	}
	p.logger.Info("Provider payout account updated",
		zap.String("providerId", prov.ID),
		zap.String("account", accountID),
		zap.Bool("verified", verified))
	return nil
}
