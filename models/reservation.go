package models

import (
	"strings"
	"time"
)

type ReservationStatus string

const (
	StatusDraft            ReservationStatus = "draft"
	StatusAwaitingProvider ReservationStatus = "awaiting_provider"
	StatusAwaitingEstimate ReservationStatus = "awaiting_estimate"
	StatusEstimated        ReservationStatus = "estimated"
	StatusConfirmed        ReservationStatus = "confirmed"
	StatusInProgress       ReservationStatus = "in_progress"
	StatusCompleted        ReservationStatus = "completed"
	StatusCancelled        ReservationStatus = "cancelled"
	StatusRefused          ReservationStatus = "refused"
)

// AllStatuses lists the canonical statuses.
var AllStatuses = []ReservationStatus{
	StatusDraft, StatusAwaitingProvider, StatusAwaitingEstimate, StatusEstimated,
	StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRefused,
}

func (s ReservationStatus) Valid() bool {
	for _, c := range AllStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further business transitions.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefused
}

// legacyStatuses maps spellings found in older documents onto the canonical enum.
var legacyStatuses = map[string]ReservationStatus{
	"brouillon":          StatusDraft,
	"new":                StatusAwaitingProvider,
	"pending":            StatusAwaitingProvider,
	"en_attente":         StatusAwaitingProvider,
	"awaiting-provider":  StatusAwaitingProvider,
	"accepted":           StatusAwaitingEstimate,
	"accepté":            StatusAwaitingEstimate,
	"awaiting-estimate":  StatusAwaitingEstimate,
	"devis_envoyé":       StatusEstimated,
	"quoted":             StatusEstimated,
	"confirmé":           StatusConfirmed,
	"paid":               StatusConfirmed,
	"en_cours":           StatusInProgress,
	"in-progress":        StatusInProgress,
	"started":            StatusInProgress,
	"terminé":            StatusCompleted,
	"done":               StatusCompleted,
	"finished":           StatusCompleted,
	"annulé":             StatusCancelled,
	"canceled":           StatusCancelled,
	"refusé":             StatusRefused,
	"rejected":           StatusRefused,
	"declined":           StatusRefused,
}

// NormalizeStatus maps a stored status string to its canonical value.
// ok is false when the value is unknown.
func NormalizeStatus(raw string) (ReservationStatus, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := ReservationStatus(v); s.Valid() {
		return s, true
	}
	s, ok := legacyStatuses[v]
	return s, ok
}

type ProofType string

const (
	ProofPIN                ProofType = "pin"
	ProofPhotos             ProofType = "photos"
	ProofClientConfirmation ProofType = "client_confirmation"
)

// Pricing amounts are in the currency's minor unit.
type Pricing struct {
	TotalPrice    int64 `bson:"totalPrice" json:"totalPrice"`
	ProviderShare int64 `bson:"providerShare" json:"providerShare"`
	PlatformShare int64 `bson:"platformShare" json:"platformShare"`
}

type PaymentFailure struct {
	PaymentIntentID string    `bson:"paymentIntentId" json:"paymentIntentId"`
	Code            string    `bson:"code" json:"code"`
	Message         string    `bson:"message" json:"message"`
	At              time.Time `bson:"at" json:"at"`
}

type PaymentSecurity struct {
	ClientAuthorized        bool            `bson:"clientAuthorized" json:"clientAuthorized"`
	ClientPaid              bool            `bson:"clientPaid" json:"clientPaid"`
	StripePaymentIntentID   string          `bson:"stripePaymentIntentId,omitempty" json:"stripePaymentIntentId,omitempty"`
	StripeCheckoutSessionID string          `bson:"stripeCheckoutSessionId,omitempty" json:"stripeCheckoutSessionId,omitempty"`
	ClientPaymentID         string          `bson:"clientPaymentId,omitempty" json:"clientPaymentId,omitempty"`
	ClientPaymentDate       *time.Time      `bson:"clientPaymentDate,omitempty" json:"clientPaymentDate,omitempty"`
	ProviderPaid            bool            `bson:"providerPaid" json:"providerPaid"`
	ProviderPaymentID       string          `bson:"providerPaymentId,omitempty" json:"providerPaymentId,omitempty"`
	ProviderPaymentDate     *time.Time      `bson:"providerPaymentDate,omitempty" json:"providerPaymentDate,omitempty"`
	Commission              int64           `bson:"commission" json:"commission"`
	CommissionPaid          bool            `bson:"commissionPaid" json:"commissionPaid"`
	Refunded                bool            `bson:"refunded" json:"refunded"`
	RefundID                string          `bson:"refundId,omitempty" json:"refundId,omitempty"`
	RefundedAt              *time.Time      `bson:"refundedAt,omitempty" json:"refundedAt,omitempty"`
	LastFailure             *PaymentFailure `bson:"lastFailure,omitempty" json:"lastFailure,omitempty"`
}

type ExecutionProof struct {
	Validated   bool       `bson:"validated" json:"validated"`
	ValidatedAt *time.Time `bson:"validatedAt,omitempty" json:"validatedAt,omitempty"`
	ValidatedBy string     `bson:"validatedBy,omitempty" json:"validatedBy,omitempty"` // client | provider
	ProofType   ProofType  `bson:"proofType,omitempty" json:"proofType,omitempty"`
	ProofData   ProofData  `bson:"proofData,omitempty" json:"proofData,omitzero"`
}

type ProofData struct {
	Photos          []string `bson:"photos,omitempty" json:"photos,omitempty"`
	ClientConfirmed bool     `bson:"clientConfirmed,omitempty" json:"clientConfirmed,omitempty"`
}

type BypassAttempt struct {
	At      time.Time `bson:"at" json:"at"`
	Type    string    `bson:"type" json:"type"`
	Details string    `bson:"details" json:"details"`
	Origin  string    `bson:"origin" json:"origin"`
	ActorID string    `bson:"actorId,omitempty" json:"actorId,omitempty"`
}

type FraudDetection struct {
	SuspiciousActivity bool            `bson:"suspiciousActivity" json:"suspiciousActivity"`
	BypassAttempts     []BypassAttempt `bson:"bypassAttempts,omitempty" json:"bypassAttempts,omitempty"`
	Blocked            bool            `bson:"blocked" json:"blocked"`
	BlockedReason      string          `bson:"blockedReason,omitempty" json:"blockedReason,omitempty"`
	BlockedAt          *time.Time      `bson:"blockedAt,omitempty" json:"blockedAt,omitempty"`
}

type Reservation struct {
	ID                 string            `bson:"id" json:"id"`
	ClientID           string            `bson:"clientId" json:"clientId"`
	ProviderID         string            `bson:"providerId,omitempty" json:"providerId,omitempty"`
	Status             ReservationStatus `bson:"status" json:"status"`
	Currency           string            `bson:"currency" json:"currency"`
	Pricing            Pricing           `bson:"pricing" json:"pricing"`
	Paid               bool              `bson:"paid" json:"paid"` // legacy mirror of PaymentSecurity.ClientPaid
	PaymentSecurity    PaymentSecurity   `bson:"paymentSecurity" json:"paymentSecurity"`
	ExecutionProof     ExecutionProof    `bson:"executionProof" json:"executionProof"`
	Fraud              FraudDetection    `bson:"fraudDetection" json:"fraudDetection"`
	PinHash            string            `bson:"pinHash,omitempty" json:"-"`
	CancellationReason string            `bson:"cancellationReason,omitempty" json:"cancellationReason,omitempty"`
	CancelledBy        string            `bson:"cancelledBy,omitempty" json:"cancelledBy,omitempty"`
	RefusalReason      string            `bson:"refusalReason,omitempty" json:"refusalReason,omitempty"`
	Version            int64             `bson:"version" json:"version"`
	CreatedAt          time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time         `bson:"updatedAt" json:"updatedAt"`
	CompletedAt        *time.Time        `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// HasHold reports an authorized but uncaptured client payment.
func (r *Reservation) HasHold() bool {
	return r.PaymentSecurity.ClientAuthorized && !r.PaymentSecurity.ClientPaid
}

// Settled is true once nothing more can move: cancelled, or provider and
// platform both paid.
func (r *Reservation) Settled() bool {
	if r.Status == StatusCancelled || r.Status == StatusRefused {
		return true
	}
	return r.PaymentSecurity.ProviderPaid && r.PaymentSecurity.CommissionPaid
}

// Clone returns a deep copy, safe to mutate without touching r.
func (r *Reservation) Clone() *Reservation {
	c := *r
	c.PaymentSecurity.ClientPaymentDate = cloneTime(r.PaymentSecurity.ClientPaymentDate)
	c.PaymentSecurity.ProviderPaymentDate = cloneTime(r.PaymentSecurity.ProviderPaymentDate)
	c.PaymentSecurity.RefundedAt = cloneTime(r.PaymentSecurity.RefundedAt)
	if r.PaymentSecurity.LastFailure != nil {
		f := *r.PaymentSecurity.LastFailure
		c.PaymentSecurity.LastFailure = &f
	}
	c.ExecutionProof.ValidatedAt = cloneTime(r.ExecutionProof.ValidatedAt)
	if r.ExecutionProof.ProofData.Photos != nil {
		c.ExecutionProof.ProofData.Photos = append([]string(nil), r.ExecutionProof.ProofData.Photos...)
	}
	if r.Fraud.BypassAttempts != nil {
		c.Fraud.BypassAttempts = append([]BypassAttempt(nil), r.Fraud.BypassAttempts...)
	}
	c.Fraud.BlockedAt = cloneTime(r.Fraud.BlockedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
