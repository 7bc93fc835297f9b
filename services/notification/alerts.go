// Package notification pushes operator alerts over Firebase Cloud Messaging.
package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"homeclean/models"
)

// Sender is the part of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// AlertNotifier delivers an alert to whoever is on call.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, a *models.AlertLog) error
}

// FCMAlertNotifier publishes alerts to one FCM topic the ops app subscribes to.
type FCMAlertNotifier struct {
	sender Sender
	topic  string
	logger *zap.Logger
}

func NewFCMAlertNotifier(sender Sender, topic string, logger *zap.Logger) (*FCMAlertNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("notification service initialization error: sender is nil")
	}
	if topic == "" {
		return nil, fmt.Errorf("notification service initialization error: empty topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCMAlertNotifier{sender: sender, topic: topic, logger: logger}, nil
}

func (n *FCMAlertNotifier) NotifyAlert(ctx context.Context, a *models.AlertLog) error {
	msg := &messaging.Message{
		Topic: n.topic,
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Type),
			Body:  a.Message,
		},
		Data: map[string]string{
			"alertId":       a.ID,
			"type":          string(a.Type),
			"severity":      string(a.Severity),
			"reservationId": a.ReservationID,
			"providerId":    a.ProviderID,
			"amount":        strconv.FormatInt(a.Amount, 10),
			"role":          "admin",
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "ops_alerts",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	response, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("NotifyAlert: failed to send FCM message: %w", err)
	}
	n.logger.Debug("Alert pushed", zap.String("alertId", a.ID), zap.String("messageId", response))
	return nil
}

// NoopNotifier drops alerts. Used when FCM is not configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyAlert(context.Context, *models.AlertLog) error { return nil }
