// Package gateway is the narrow surface the reservation engine uses to move
// money through the payment provider.
package gateway

import (
	"context"

	"homeclean/services/commission"
)

// DependencyStripe names the Stripe breaker.
const DependencyStripe = "stripe"

type PaymentGateway interface {
	// CapturePayment captures a held payment intent in full.
	CapturePayment(ctx context.Context, paymentIntentID, idempotencyKey string) (*Capture, error)
	// CancelAuthorization releases a held, uncaptured payment intent.
	CancelAuthorization(ctx context.Context, paymentIntentID string) error
	// Refund returns a captured payment to the client. amount 0 refunds in full.
	Refund(ctx context.Context, paymentIntentID string, amount int64, idempotencyKey string) (*RefundResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
	GetPayoutDestination(ctx context.Context, accountID string) (*PayoutDestination, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type Capture struct {
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Currency        string
	PaymentMethod   string
}

// PaymentIntent is the provider's view of one client payment.
type PaymentIntent struct {
	ID             string
	Status         string
	Amount         int64
	AmountReceived int64
	Currency       string
	ChargeID       string
	PaymentMethod  string
	Metadata       map[string]string
}

const (
	IntentRequiresCapture = "requires_capture"
	IntentSucceeded       = "succeeded"
	IntentCanceled        = "canceled"
)

type PayoutDestination struct {
	AccountID string
	Verified  bool
}

type TransferRequest struct {
	Amount      int64
	Currency    string
	Destination string
	// TransferGroup ties the transfer to the reservation's charge.
	TransferGroup string
	// SourceTransaction funds the transfer from a specific charge. Empty draws
	// on the platform balance.
	SourceTransaction string
	IdempotencyKey    string
	Metadata          map[string]string
}

type TransferResult struct {
	ID     string
	Amount int64
}

type RefundResult struct {
	ID     string
	Status string
	Amount int64
}

type CheckoutRequest struct {
	ReservationID  string
	ClientID       string
	Currency       string
	Description    string
	SuccessURL     string
	CancelURL      string
	Split          commission.Split
	IdempotencyKey string
}

type CheckoutSession struct {
	ID              string
	URL             string
	PaymentIntentID string
}
