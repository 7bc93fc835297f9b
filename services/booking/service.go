// Package booking drives the client-facing money steps around a reservation:
// opening checkout and settling a cancellation.
package booking

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/gateway"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
)

// --- Service ---
type Service struct {
	machine *reservation.Machine
	gateway gateway.PaymentGateway
	alerts  *alert.Service
	logger  *zap.Logger
}

func NewService(m *reservation.Machine, gw gateway.PaymentGateway, alerts *alert.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{machine: m, gateway: gw, alerts: alerts, logger: logger}
}

// --- Checkout ---

type CheckoutRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CreateCheckout opens an authorize-only checkout session for the reservation's
// estimate and attaches it to the reservation.
func (s *Service) CreateCheckout(ctx context.Context, id string, req CheckoutRequest, a reservation.Actor) (*gateway.CheckoutSession, error) {
	if a.Role != reservation.RoleClient {
		return nil, payerr.New(payerr.Forbidden, "only the client pays")
	}
	if !validURL(req.SuccessURL) || !validURL(req.CancelURL) {
		return nil, payerr.New(payerr.IllegalTransition, "successUrl and cancelUrl are required")
	}
	r, err := s.machine.Get(ctx, id, a)
	if err != nil {
		return nil, err
	}
	if !reservation.CanApply(reservation.OpAttachCheckout, r.Status) {
		return nil, payerr.New(payerr.IllegalTransition, "checkout not allowed while %s", r.Status)
	}
	if r.PaymentSecurity.ClientAuthorized || r.PaymentSecurity.ClientPaid {
		return nil, payerr.New(payerr.IllegalTransition, "payment already secured")
	}
	if r.Fraud.Blocked {
		return nil, payerr.New(payerr.IllegalTransition, "reservation %s is blocked", id)
	}

	split, err := s.machine.Splitter().Split(r.Pricing.TotalPrice)
	if err != nil {
		return nil, err
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		ReservationID:  r.ID,
		ClientID:       r.ClientID,
		Currency:       r.Currency,
		Description:    "Home cleaning",
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		Split:          split,
		IdempotencyKey: fmt.Sprintf("checkout-%s-%d", r.ID, r.Version),
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout for %s: %w", id, err)
	}

	if _, err := s.machine.AttachCheckout(ctx, id, session.ID, session.PaymentIntentID); err != nil {
		return nil, err
	}
	s.logger.Info("Checkout session created",
		zap.String("reservationId", id),
		zap.String("sessionId", session.ID),
		zap.Int64("amount", split.Total))
	return session, nil
}

func validURL(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

// --- Cancellation ---

// Cancel cancels the reservation and settles the client's money.
func (s *Service) Cancel(ctx context.Context, id, reason string, a reservation.Actor) (*models.Reservation, error) {
	r, err := s.machine.Cancel(ctx, id, reason, a)
	if err != nil {
		return nil, err
	}
	if err := s.SettleCancellation(ctx, r); err != nil {
		return nil, err
	}
	return s.machine.Get(ctx, id, reservation.System())
}

// SettleCancellation releases a hold or refunds a capture on a cancelled
// reservation. Provider failures become alerts; the cancellation stands.
// Only an alert that cannot be written is returned.
func (s *Service) SettleCancellation(ctx context.Context, r *models.Reservation) error {
	if r == nil || r.Status != models.StatusCancelled {
		return nil
	}
	ps := r.PaymentSecurity
	intent := ps.StripePaymentIntentID

	switch {
	case r.HasHold():
		if err := s.gateway.CancelAuthorization(ctx, intent); err != nil {
			return s.settlementFailed(ctx, r, "release of held payment failed", err)
		}
		if _, err := s.machine.ReleaseAuthorization(ctx, r.ID, intent); err != nil {
			return s.settlementFailed(ctx, r, "hold released but not recorded", err)
		}
		s.logger.Info("Held payment released",
			zap.String("reservationId", r.ID), zap.String("paymentIntentId", intent))

	case ps.ClientPaid && !ps.Refunded && !ps.ProviderPaid:
		refund, err := s.gateway.Refund(ctx, intent, 0, "refund-"+r.ID)
		if err != nil {
			return s.settlementFailed(ctx, r, "refund of captured payment failed", err)
		}
		if _, err := s.machine.MarkRefunded(ctx, r.ID, refund.ID); err != nil {
			return s.settlementFailed(ctx, r, "refund issued but not recorded", err)
		}
		s.logger.Info("Captured payment refunded",
			zap.String("reservationId", r.ID),
			zap.String("refundId", refund.ID),
			zap.Int64("amount", r.Pricing.TotalPrice))
	}
	return nil
}

func (s *Service) settlementFailed(ctx context.Context, r *models.Reservation, msg string, cause error) error {
	code, providerMsg := gateway.ProviderMessage(cause)
	_, err := s.alerts.Raise(ctx, models.AlertLog{
		Type:          models.AlertSettlementFailed,
		Severity:      models.SeverityHigh,
		ReservationID: r.ID,
		ProviderID:    r.ProviderID,
		Amount:        r.Pricing.TotalPrice,
		Currency:      r.Currency,
		Message:       msg,
		Details: map[string]string{
			"paymentIntentId": r.PaymentSecurity.StripePaymentIntentID,
			"errorCode":       code,
			"errorMessage":    providerMsg,
		},
	})
	return err
}
