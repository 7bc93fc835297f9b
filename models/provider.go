package models

import (
	"time"
)

type Profile struct {
	ProviderName string `bson:"providerName" json:"providerName,omitempty"`
	Email        string `bson:"email" json:"email,omitempty"`
	PhoneNumber  string `bson:"phoneNumber" json:"phoneNumber,omitempty"`
	Status       string `bson:"status" json:"status,omitempty"`
}

type PaymentDetails struct {
	Currency string `bson:"currency" json:"currency"` // e.g., "eur"

	// Stripe-related
	StripeAccountID string `bson:"stripeAccountID,omitempty" json:"stripeAccountID,omitempty"`
	StripeVerified  bool   `bson:"stripeVerified" json:"stripeVerified"`

	// Timestamps
	LastUpdated time.Time `bson:"lastUpdated" json:"lastUpdated"`
}

// Earnings are in minor units. Pending is captured but not yet transferred.
type Earnings struct {
	Pending int64 `bson:"pendingEarnings" json:"pendingEarnings"`
	Paid    int64 `bson:"paidEarnings" json:"paidEarnings"`
}

type Provider struct {
	ID                string         `bson:"id" json:"id,omitempty"`
	Profile           Profile        `bson:"profile" json:"profile"`
	PaymentDetails    PaymentDetails `bson:"paymentDetails" json:"paymentDetails,omitzero"`
	Earnings          Earnings       `bson:"earnings" json:"earnings"`
	CompletedBookings int            `bson:"completedBookings" json:"completedBookings,omitempty"`
	CreatedAt         time.Time      `bson:"createdAt" json:"createdAt,omitzero"`
	UpdatedAt         time.Time      `bson:"updatedAt" json:"updatedAt,omitzero"`
}

// PayoutReady reports a verified payout destination on file.
func (p *Provider) PayoutReady() bool {
	return p.PaymentDetails.StripeVerified && p.PaymentDetails.StripeAccountID != ""
}
