// Package alert records anomalies the engine detected but did not repair.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/notification"
	"homeclean/services/payerr"
)

type Service struct {
	repo     repository.AlertRepository
	notifier notification.AlertNotifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo repository.AlertRepository, notifier notification.AlertNotifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notification.NoopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

// Raise durably records a. If an unresolved alert of the same type and
// reference exists nothing is written and created is false.
func (s *Service) Raise(ctx context.Context, a models.AlertLog) (created bool, err error) {
	if a.Reference == "" {
		a.Reference = a.ReservationID
	}
	if a.Reference == "" {
		return false, fmt.Errorf("alert %s without reference", a.Type)
	}
	a.ID = uuid.New().String()
	a.CreatedAt = s.now()
	a.Resolved = false

	if err := s.repo.Insert(ctx, &a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record %s alert: %w", a.Type, err)
	}

	fields := []zap.Field{
		zap.String("alertId", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.String("reservationId", a.ReservationID),
		zap.String("providerId", a.ProviderID),
		zap.Int64("amount", a.Amount),
	}
	switch a.Severity {
	case models.SeverityHigh, models.SeverityCritical:
		s.logger.Error(a.Message, fields...)
		if err := s.notifier.NotifyAlert(ctx, &a); err != nil {
			s.logger.Warn("Failed to push alert", zap.String("alertId", a.ID), zap.Error(err))
		}
	default:
		s.logger.Warn(a.Message, fields...)
	}
	return true, nil
}

func (s *Service) List(ctx context.Context, q repository.AlertQuery) ([]models.AlertLog, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	return s.repo.List(ctx, q)
}

// Resolve closes one alert with an operator note.
func (s *Service) Resolve(ctx context.Context, id, note, resolvedBy string) (*models.AlertLog, error) {
	if note == "" {
		return nil, payerr.New(payerr.IllegalTransition, "resolution note required")
	}
	err := s.repo.Resolve(ctx, id, note, resolvedBy, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, payerr.New(payerr.NotFound, "alert %s", id)
	case errors.Is(err, repository.ErrAlreadyResolved):
		return nil, payerr.New(payerr.Conflict, "alert %s already resolved", id)
	case err != nil:
		return nil, err
	}
	s.logger.Info("Alert resolved", zap.String("alertId", id), zap.String("resolvedBy", resolvedBy))
	return s.repo.GetByID(ctx, id)
}

// ResolveOpen closes the open alert of this type for reference, if any.
func (s *Service) ResolveOpen(ctx context.Context, alertType models.AlertType, reference, note string) error {
	found, err := s.repo.ResolveOpen(ctx, alertType, reference, note, s.now())
	if err != nil {
		return err
	}
	if found {
		s.logger.Info("Alert auto-resolved",
			zap.String("type", string(alertType)),
			zap.String("reference", reference))
	}
	return nil
}
