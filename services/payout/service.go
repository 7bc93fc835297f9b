// Package payout transfers the provider's share once execution is proven.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/gateway"
	"homeclean/services/payerr"
	"homeclean/services/reservation"
)

type Service struct {
	machine   *reservation.Machine
	providers repository.ProviderRepository
	gateway   gateway.PaymentGateway
	alerts    *alert.Service
	env       Environment
	logger    *zap.Logger
}

func NewService(
	machine *reservation.Machine,
	providers repository.ProviderRepository,
	gw gateway.PaymentGateway,
	alerts *alert.Service,
	env Environment,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		machine:   machine,
		providers: providers,
		gateway:   gw,
		alerts:    alerts,
		env:       env,
		logger:    logger,
	}
}

// Pay transfers the provider share of reservation id. A reservation whose
// provider is already paid is returned as is.
func (s *Service) Pay(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := s.machine.Get(ctx, id, reservation.System())
	if err != nil {
		return nil, err
	}
	if r.PaymentSecurity.ProviderPaid {
		return r, nil
	}
	if err := checkPreconditions(r); err != nil {
		return nil, err
	}

	split, err := s.machine.Splitter().Split(r.Pricing.TotalPrice)
	if err != nil {
		return nil, err
	}
	if split.ProviderAmount != r.Pricing.ProviderShare {
		s.raise(ctx, r, models.AlertReconciliationConflict, models.SeverityHigh,
			fmt.Sprintf("stored provider share %d differs from split %d", r.Pricing.ProviderShare, split.ProviderAmount), nil)
		return nil, payerr.New(payerr.IllegalTransition, "pricing of %s does not match the commission rate", id)
	}

	dest, err := s.destination(ctx, r)
	if err != nil {
		return nil, err
	}

	req := gateway.TransferRequest{
		Amount:            split.ProviderAmount,
		Currency:          r.Currency,
		Destination:       dest,
		TransferGroup:     r.ID,
		SourceTransaction: s.env.SourceTransaction(r),
		IdempotencyKey:    "payout-" + r.ID,
		Metadata: map[string]string{
			"reservationId": r.ID,
			"providerId":    r.ProviderID,
			"commission":    strconv.FormatInt(split.Commission, 10),
		},
	}
	tr, err := s.gateway.Transfer(ctx, req)
	if err != nil {
		code, msg := gateway.ProviderMessage(err)
		s.raise(ctx, r, models.AlertTransferFailed, models.SeverityCritical,
			"transfer to provider failed, client payment captured", map[string]string{
				"destination":  dest,
				"errorCode":    code,
				"errorMessage": msg,
				"environment":  s.env.Name,
			})
		return nil, payerr.Wrap(payerr.PayoutFailed, err, "transfer for %s failed", id)
	}

	paid, err := s.machine.ConfirmProviderPayout(ctx, id, tr.ID)
	if err != nil {
		// The transfer went through. A retry reuses the idempotency key and
		// gets the same transfer back.
		s.logger.Error("Transfer sent but not recorded",
			zap.String("reservationId", id),
			zap.String("transferId", tr.ID),
			zap.Error(err))
		return nil, err
	}
	s.logger.Info("Provider paid",
		zap.String("reservationId", id),
		zap.String("providerId", r.ProviderID),
		zap.String("transferId", tr.ID),
		zap.Int64("amount", tr.Amount),
		zap.String("environment", s.env.Name))

	for _, t := range []models.AlertType{models.AlertMissingProvider, models.AlertTransferFailed, models.AlertProviderAPIError} {
		if err := s.alerts.ResolveOpen(ctx, t, id, "payout completed: "+tr.ID); err != nil {
			s.logger.Warn("Failed to auto-resolve alert",
				zap.String("reservationId", id), zap.String("type", string(t)), zap.Error(err))
		}
	}
	return paid, nil
}

func checkPreconditions(r *models.Reservation) error {
	switch {
	case r.Fraud.Blocked:
		return payerr.New(payerr.IllegalTransition, "reservation %s is blocked", r.ID)
	case !r.ExecutionProof.Validated:
		return payerr.New(payerr.IllegalTransition, "execution of %s not validated", r.ID)
	case !r.PaymentSecurity.ClientPaid:
		return payerr.New(payerr.IllegalTransition, "client payment of %s not captured", r.ID)
	case !reservation.CanApply(reservation.OpConfirmPayout, r.Status):
		return payerr.New(payerr.IllegalTransition, "payout not allowed while %s", r.Status)
	}
	return nil
}

// destination returns the provider's verified connected account.
func (s *Service) destination(ctx context.Context, r *models.Reservation) (string, error) {
	p, err := s.providers.GetByID(ctx, r.ProviderID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("load provider %s: %w", r.ProviderID, err)
	}
	if p == nil || p.PaymentDetails.StripeAccountID == "" {
		return "", s.missing(ctx, r, "no payout account on file")
	}

	acct := p.PaymentDetails.StripeAccountID
	d, err := s.gateway.GetPayoutDestination(ctx, acct)
	if err != nil {
		code, msg := gateway.ProviderMessage(err)
		s.raise(ctx, r, models.AlertProviderAPIError, models.SeverityMedium,
			"could not read provider payout account", map[string]string{
				"account":      acct,
				"errorCode":    code,
				"errorMessage": msg,
			})
		return "", payerr.Wrap(payerr.PayoutFailed, err, "payout account of %s unavailable", r.ProviderID)
	}
	if d.Verified != p.PaymentDetails.StripeVerified {
		if err := s.providers.SetPayoutVerified(ctx, p.ID, d.Verified); err != nil {
			s.logger.Warn("Failed to store payout verification",
				zap.String("providerId", p.ID), zap.Error(err))
		}
	}
	if !d.Verified {
		return "", s.missing(ctx, r, "payout account not verified")
	}
	return acct, nil
}

func (s *Service) missing(ctx context.Context, r *models.Reservation, why string) error {
	s.raise(ctx, r, models.AlertMissingProvider, models.SeverityHigh,
		"provider has no verified payout destination, amount held", map[string]string{"reason": why})
	return payerr.New(payerr.PayoutDestinationMissing, "provider %s: %s", r.ProviderID, why)
}

func (s *Service) raise(ctx context.Context, r *models.Reservation, t models.AlertType, sev models.AlertSeverity, msg string, details map[string]string) {
	_, err := s.alerts.Raise(ctx, models.AlertLog{
		Type:          t,
		Severity:      sev,
		ReservationID: r.ID,
		ProviderID:    r.ProviderID,
		Amount:        r.Pricing.ProviderShare,
		Currency:      r.Currency,
		Message:       msg,
		Details:       details,
	})
	if err != nil {
		s.logger.Error("Failed to raise payout alert",
			zap.String("reservationId", r.ID),
			zap.String("type", string(t)),
			zap.Error(err))
	}
}
