// Package memory is an in-process implementation of the repository contracts,
// used by tests and local runs without MongoDB. It honours the same version and
// uniqueness rules as the Mongo repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"homeclean/database/repository"
	"homeclean/models"
)

type intentKey struct {
	intent string
	kind   models.PaymentLogKind
}

type alertKey struct {
	alertType models.AlertType
	reference string
}

// Store holds every collection behind one lock.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]models.Reservation
	logs         map[string]models.PaymentLog
	logByIntent  map[intentKey]string
	alerts       map[string]models.AlertLog
	openAlerts   map[alertKey]string
	providers    map[string]models.Provider

	writes atomic.Int64
}

func NewStore() *Store {
	return &Store{
		reservations: make(map[string]models.Reservation),
		logs:         make(map[string]models.PaymentLog),
		logByIntent:  make(map[intentKey]string),
		alerts:       make(map[string]models.AlertLog),
		openAlerts:   make(map[alertKey]string),
		providers:    make(map[string]models.Provider),
	}
}

// Writes counts successful mutations across all collections.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

func (s *Store) Reservations() repository.ReservationRepository { return &reservationStore{s} }
func (s *Store) PaymentLogs() repository.PaymentLogRepository   { return &paymentLogStore{s} }
func (s *Store) Alerts() repository.AlertRepository             { return &alertStore{s} }
func (s *Store) Providers() repository.ProviderRepository       { return &providerStore{s} }

// PutProvider seeds or replaces a provider. Not counted as a write.
func (s *Store) PutProvider(p models.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

// PutReservation seeds or replaces a reservation as is. Not counted as a write.
func (s *Store) PutReservation(r models.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = *r.Clone()
}

type reservationStore struct{ *Store }

func (s *reservationStore) Create(ctx context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; ok {
		return repository.ErrDuplicate
	}
	s.reservations[r.ID] = *r.Clone()
	s.writes.Add(1)
	return nil
}

func (s *reservationStore) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *reservationStore) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reservations {
		if paymentIntentID != "" && r.PaymentSecurity.StripePaymentIntentID == paymentIntentID {
			return r.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *reservationStore) Update(ctx context.Context, r *models.Reservation, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[r.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	r.Version = expectedVersion + 1
	s.reservations[r.ID] = *r.Clone()
	s.writes.Add(1)
	return nil
}

func (s *reservationStore) Find(ctx context.Context, q repository.ReservationQuery) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if matches(&r, q) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(r *models.Reservation, q repository.ReservationQuery) bool {
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, r.Status) {
		return false
	}
	if q.NonCanonicalStatus && r.Status.Valid() {
		return false
	}
	if q.ProviderID != "" && r.ProviderID != q.ProviderID {
		return false
	}
	if q.ClientPaid != nil && r.PaymentSecurity.ClientPaid != *q.ClientPaid {
		return false
	}
	if q.ProofValidated != nil && r.ExecutionProof.Validated != *q.ProofValidated {
		return false
	}
	if q.ProviderPaid != nil && r.PaymentSecurity.ProviderPaid != *q.ProviderPaid {
		return false
	}
	if q.Blocked != nil && r.Fraud.Blocked != *q.Blocked {
		return false
	}
	if q.HasPaymentIntent && r.PaymentSecurity.StripePaymentIntentID == "" {
		return false
	}
	if q.PaidMismatch && r.Paid == r.PaymentSecurity.ClientPaid {
		return false
	}
	if !q.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(q.UpdatedBefore) {
		return false
	}
	if q.AfterID != "" && r.ID <= q.AfterID {
		return false
	}
	return true
}

func containsStatus(list []models.ReservationStatus, s models.ReservationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type paymentLogStore struct{ *Store }

func (s *paymentLogStore) Insert(ctx context.Context, l *models.PaymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := intentKey{intent: l.StripePaymentIntentID, kind: l.Kind}
	if _, ok := s.logByIntent[key]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := s.logs[l.ID]; ok {
		return repository.ErrDuplicate
	}
	s.logs[l.ID] = *l
	s.logByIntent[key] = l.ID
	s.writes.Add(1)
	return nil
}

func (s *paymentLogStore) GetByIntent(ctx context.Context, paymentIntentID string, kind models.PaymentLogKind) (*models.PaymentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.logByIntent[intentKey{intent: paymentIntentID, kind: kind}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	l := s.logs[id]
	return &l, nil
}

func (s *paymentLogStore) ListByReservation(ctx context.Context, reservationID string) ([]models.PaymentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PaymentLog
	for _, l := range s.logs {
		if l.ReservationID == reservationID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *paymentLogStore) FindUnreflectedCharges(ctx context.Context, afterID string, limit int) ([]models.PaymentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PaymentLog
	for _, l := range s.logs {
		if l.Kind != models.PaymentKindCharge || l.Status != models.PaymentCompleted {
			continue
		}
		if afterID != "" && l.ID <= afterID {
			continue
		}
		if r, ok := s.reservations[l.ReservationID]; ok && r.PaymentSecurity.ClientPaid {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type alertStore struct{ *Store }

func (s *alertStore) Insert(ctx context.Context, a *models.AlertLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := alertKey{alertType: a.Type, reference: a.Reference}
	if !a.Resolved {
		if _, ok := s.openAlerts[key]; ok {
			return repository.ErrDuplicate
		}
	}
	if _, ok := s.alerts[a.ID]; ok {
		return repository.ErrDuplicate
	}
	s.alerts[a.ID] = *a
	if !a.Resolved {
		s.openAlerts[key] = a.ID
	}
	s.writes.Add(1)
	return nil
}

func (s *alertStore) GetByID(ctx context.Context, id string) (*models.AlertLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *alertStore) List(ctx context.Context, q repository.AlertQuery) ([]models.AlertLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AlertLog
	for _, a := range s.alerts {
		if q.Type != "" && a.Type != q.Type {
			continue
		}
		if q.Severity != "" && a.Severity != q.Severity {
			continue
		}
		if q.Resolved != nil && a.Resolved != *q.Resolved {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *alertStore) Resolve(ctx context.Context, id, note, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if a.Resolved {
		return repository.ErrAlreadyResolved
	}
	s.resolveLocked(a, note, resolvedBy, at)
	return nil
}

func (s *alertStore) ResolveOpen(ctx context.Context, alertType models.AlertType, reference, note string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.openAlerts[alertKey{alertType: alertType, reference: reference}]
	if !ok {
		return false, nil
	}
	s.resolveLocked(s.alerts[id], note, "system", at)
	return true, nil
}

func (s *alertStore) resolveLocked(a models.AlertLog, note, resolvedBy string, at time.Time) {
	a.Resolved = true
	a.ResolutionNote = note
	a.ResolvedBy = resolvedBy
	a.ResolvedAt = &at
	s.alerts[a.ID] = a
	delete(s.openAlerts, alertKey{alertType: a.Type, reference: a.Reference})
	s.writes.Add(1)
}

type providerStore struct{ *Store }

func (s *providerStore) GetByID(ctx context.Context, id string) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *providerStore) GetByStripeAccount(ctx context.Context, accountID string) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if accountID != "" && p.PaymentDetails.StripeAccountID == accountID {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *providerStore) SetPayoutVerified(ctx context.Context, id string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.PaymentDetails.StripeVerified = verified
	p.PaymentDetails.LastUpdated = time.Now()
	s.providers[id] = p
	s.writes.Add(1)
	return nil
}

func (s *providerStore) AddEarnings(ctx context.Context, id string, pendingDelta, paidDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Earnings.Pending += pendingDelta
	p.Earnings.Paid += paidDelta
	s.providers[id] = p
	s.writes.Add(1)
	return nil
}
