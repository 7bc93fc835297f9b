package models

import "time"

type PaymentLogKind string

const (
	PaymentKindCharge PaymentLogKind = "charge"
	PaymentKindPayout PaymentLogKind = "payout"
	PaymentKindRefund PaymentLogKind = "refund"
)

type PaymentLogStatus string

const (
	PaymentPending   PaymentLogStatus = "pending"
	PaymentCompleted PaymentLogStatus = "completed"
	PaymentFailed    PaymentLogStatus = "failed"
	PaymentRefunded  PaymentLogStatus = "refunded"
)

// PaymentLog is an append-only record of one settled money movement. The pair
// (StripePaymentIntentID, Kind) is unique.
type PaymentLog struct {
	ID                    string           `bson:"id" json:"id"`
	Kind                  PaymentLogKind   `bson:"kind" json:"kind"`
	ReservationID         string           `bson:"reservationId" json:"reservationId"`
	ClientID              string           `bson:"clientId" json:"clientId"`
	ProviderID            string           `bson:"providerId,omitempty" json:"providerId,omitempty"`
	StripePaymentIntentID string           `bson:"stripePaymentIntentId" json:"stripePaymentIntentId"`
	TotalAmount           int64            `bson:"totalAmount" json:"totalAmount"`
	Commission            int64            `bson:"commission" json:"commission"`
	ProviderAmount        int64            `bson:"providerAmount" json:"providerAmount"`
	Currency              string           `bson:"currency" json:"currency"`
	Status                PaymentLogStatus `bson:"status" json:"status"`
	PaymentMethod         string           `bson:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	ChargeID              string           `bson:"chargeId,omitempty" json:"chargeId,omitempty"`
	TransferID            string           `bson:"transferId,omitempty" json:"transferId,omitempty"`
	RefundID              string           `bson:"refundId,omitempty" json:"refundId,omitempty"`
	CreatedAt             time.Time        `bson:"createdAt" json:"createdAt"`
}
