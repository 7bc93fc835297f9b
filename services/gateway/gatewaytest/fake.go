// Package gatewaytest provides an in-memory PaymentGateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"homeclean/services/gateway"
)

var ErrUnknownIntent = errors.New("gatewaytest: unknown payment intent")

// Fake records every call. Set the *Err fields to make the matching call fail.
type Fake struct {
	mu sync.Mutex

	Intents  map[string]*gateway.PaymentIntent
	Accounts map[string]gateway.PayoutDestination

	CaptureErr     error
	CancelErr      error
	RefundErr      error
	TransferErr    error
	IntentErr      error
	DestinationErr error
	CheckoutErr    error

	Captures  []string
	Cancels   []string
	Refunds   []string
	Transfers []gateway.TransferRequest
	Sessions  []gateway.CheckoutRequest
}

func New() *Fake {
	return &Fake{
		Intents:  make(map[string]*gateway.PaymentIntent),
		Accounts: make(map[string]gateway.PayoutDestination),
	}
}

// Hold registers an authorized, uncaptured intent.
func (f *Fake) Hold(id string, amount int64, metadata map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Intents[id] = &gateway.PaymentIntent{
		ID:       id,
		Status:   gateway.IntentRequiresCapture,
		Amount:   amount,
		Currency: "eur",
		Metadata: metadata,
	}
}

// Verify registers a payout-ready connected account.
func (f *Fake) Verify(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accounts[accountID] = gateway.PayoutDestination{AccountID: accountID, Verified: true}
}

func (f *Fake) CapturePayment(ctx context.Context, paymentIntentID, idempotencyKey string) (*gateway.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Captures = append(f.Captures, paymentIntentID)
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	pi, ok := f.Intents[paymentIntentID]
	if !ok {
		return nil, ErrUnknownIntent
	}
	pi.Status = gateway.IntentSucceeded
	pi.AmountReceived = pi.Amount
	if pi.ChargeID == "" {
		pi.ChargeID = "ch_" + paymentIntentID
	}
	return &gateway.Capture{
		PaymentIntentID: pi.ID,
		ChargeID:        pi.ChargeID,
		Amount:          pi.AmountReceived,
		Currency:        pi.Currency,
		PaymentMethod:   "card",
	}, nil
}

func (f *Fake) CancelAuthorization(ctx context.Context, paymentIntentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancels = append(f.Cancels, paymentIntentID)
	if f.CancelErr != nil {
		return f.CancelErr
	}
	if pi, ok := f.Intents[paymentIntentID]; ok {
		pi.Status = gateway.IntentCanceled
	}
	return nil
}

func (f *Fake) Refund(ctx context.Context, paymentIntentID string, amount int64, idempotencyKey string) (*gateway.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refunds = append(f.Refunds, paymentIntentID)
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	return &gateway.RefundResult{ID: "re_" + paymentIntentID, Status: "succeeded", Amount: amount}, nil
}

func (f *Fake) Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transfers = append(f.Transfers, req)
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	return &gateway.TransferResult{ID: fmt.Sprintf("tr_%s", req.TransferGroup), Amount: req.Amount}, nil
}

func (f *Fake) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*gateway.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IntentErr != nil {
		return nil, f.IntentErr
	}
	pi, ok := f.Intents[paymentIntentID]
	if !ok {
		return nil, ErrUnknownIntent
	}
	cp := *pi
	return &cp, nil
}

func (f *Fake) GetPayoutDestination(ctx context.Context, accountID string) (*gateway.PayoutDestination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DestinationErr != nil {
		return nil, f.DestinationErr
	}
	d, ok := f.Accounts[accountID]
	if !ok {
		return &gateway.PayoutDestination{AccountID: accountID}, nil
	}
	return &d, nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sessions = append(f.Sessions, req)
	if f.CheckoutErr != nil {
		return nil, f.CheckoutErr
	}
	id := fmt.Sprintf("cs_%s_%d", req.ReservationID, len(f.Sessions))
	return &gateway.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

// Calls returns how many captures and transfers were attempted.
func (f *Fake) Calls() (captures, transfers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Captures), len(f.Transfers)
}
