package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"homeclean/services/resilience"
)

// StripeGateway implements PaymentGateway on the Stripe API. Every call goes
// through the guard's "stripe" breaker and retry policy.
type StripeGateway struct {
	api    *client.API
	guard  *resilience.Guard
	logger *zap.Logger
}

// NewStripeGateway builds a gateway for the given secret key. Stripe's own
// network retries are disabled since the guard retries.
func NewStripeGateway(secretKey string, guard *resilience.Guard, logger *zap.Logger) *StripeGateway {
	return NewStripeGatewayWithBackend(secretKey, "", guard, logger)
}

// NewStripeGatewayWithBackend points the client at baseURL when it is non-empty.
func NewStripeGatewayWithBackend(secretKey, baseURL string, guard *resilience.Guard, logger *zap.Logger) *StripeGateway {
	cfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{api: api, guard: guard, logger: logger}
}

// call runs fn through the guard, marking Stripe 4xx answers permanent.
func (g *StripeGateway) call(ctx context.Context, op string, fn func() error) error {
	err := g.guard.Call(ctx, DependencyStripe, func(ctx context.Context) error {
		return classify(fn())
	})
	if err != nil {
		return fmt.Errorf("stripe %s: %w", op, err)
	}
	return nil
}

// classify marks errors that must not be retried nor counted by the breaker.
// 409 and 429 are Stripe's signals to try again.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		code := se.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusConflict && code != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
	}
	return err
}

// ProviderMessage extracts Stripe's error code and message, if any.
func ProviderMessage(err error) (code, message string) {
	var se *stripe.Error
	if errors.As(err, &se) {
		return string(se.Code), se.Msg
	}
	return "", err.Error()
}

func (g *StripeGateway) CapturePayment(ctx context.Context, paymentIntentID, idempotencyKey string) (*Capture, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	var pi *stripe.PaymentIntent
	err := g.call(ctx, "capture", func() (err error) {
		pi, err = g.api.PaymentIntents.Capture(paymentIntentID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("Payment captured",
		zap.String("paymentIntentId", pi.ID),
		zap.Int64("amount", pi.AmountReceived))
	out := toPaymentIntent(pi)
	return &Capture{
		PaymentIntentID: out.ID,
		ChargeID:        out.ChargeID,
		Amount:          out.AmountReceived,
		Currency:        out.Currency,
		PaymentMethod:   out.PaymentMethod,
	}, nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("cancel-" + paymentIntentID)
	return g.call(ctx, "cancel", func() error {
		_, err := g.api.PaymentIntents.Cancel(paymentIntentID, params)
		return err
	})
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amount int64, idempotencyKey string) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	var r *stripe.Refund
	err := g.call(ctx, "refund", func() (err error) {
		r, err = g.api.Refunds.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{ID: r.ID, Status: string(r.Status), Amount: r.Amount}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(req.TransferGroup),
	}
	if req.SourceTransaction != "" {
		params.SourceTransaction = stripe.String(req.SourceTransaction)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	var t *stripe.Transfer
	err := g.call(ctx, "transfer", func() (err error) {
		t, err = g.api.Transfers.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("Transfer created",
		zap.String("transferId", t.ID),
		zap.String("destination", req.Destination),
		zap.Int64("amount", t.Amount))
	return &TransferResult{ID: t.ID, Amount: t.Amount}, nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := g.call(ctx, "get payment intent", func() (err error) {
		pi, err = g.api.PaymentIntents.Get(paymentIntentID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

func (g *StripeGateway) GetPayoutDestination(ctx context.Context, accountID string) (*PayoutDestination, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	var acct *stripe.Account
	err := g.call(ctx, "get account", func() (err error) {
		acct, err = g.api.Accounts.GetByID(accountID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &PayoutDestination{
		AccountID: acct.ID,
		Verified:  AccountVerified(acct),
	}, nil
}

// AccountVerified is the single rule for "payout destination verified".
func AccountVerified(acct *stripe.Account) bool {
	return acct != nil && acct.PayoutsEnabled && acct.DetailsSubmitted
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	metadata := map[string]string{
		"reservationId":  req.ReservationID,
		"clientId":       req.ClientID,
		"commission":     strconv.FormatInt(req.Split.Commission, 10),
		"providerAmount": strconv.FormatInt(req.Split.ProviderAmount, 10),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ReservationID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.Split.Total),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			TransferGroup: stripe.String(req.ReservationID),
			Metadata:      metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	var s *stripe.CheckoutSession
	err := g.call(ctx, "checkout session", func() (err error) {
		s, err = g.api.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := &CheckoutSession{ID: s.ID, URL: s.URL}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out, nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
		Metadata:       pi.Metadata,
	}
	if pi.LatestCharge != nil {
		out.ChargeID = pi.LatestCharge.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethod = pi.PaymentMethod.ID
	}
	return out
}

// FromStripePaymentIntent converts a webhook-delivered intent.
func FromStripePaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	return toPaymentIntent(pi)
}
