package models

import "time"

type AlertType string

const (
	AlertTransferFailed         AlertType = "transfer_failed"
	AlertMissingProvider        AlertType = "missing_provider"
	AlertProviderAPIError       AlertType = "provider_api_error"
	AlertWebhookProcessingError AlertType = "webhook_processing_error"
	AlertReconciliationConflict AlertType = "reconciliation_conflict"
	AlertSettlementFailed       AlertType = "settlement_failed"
)

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertLog is an anomaly left for operators. At most one unresolved alert exists
// per (Type, Reference); Reference is the reservation id, or the event id when
// no reservation is known.
type AlertLog struct {
	ID             string            `bson:"id" json:"id"`
	Type           AlertType         `bson:"type" json:"type"`
	Severity       AlertSeverity     `bson:"severity" json:"severity"`
	Reference      string            `bson:"reference" json:"reference"`
	ReservationID  string            `bson:"reservationId,omitempty" json:"reservationId,omitempty"`
	ProviderID     string            `bson:"providerId,omitempty" json:"providerId,omitempty"`
	Amount         int64             `bson:"amount,omitempty" json:"amount,omitempty"`
	Currency       string            `bson:"currency,omitempty" json:"currency,omitempty"`
	Message        string            `bson:"message" json:"message"`
	Details        map[string]string `bson:"details,omitempty" json:"details,omitempty"`
	Resolved       bool              `bson:"resolved" json:"resolved"`
	ResolutionNote string            `bson:"resolutionNote,omitempty" json:"resolutionNote,omitempty"`
	ResolvedBy     string            `bson:"resolvedBy,omitempty" json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time        `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	CreatedAt      time.Time         `bson:"createdAt" json:"createdAt"`
}
