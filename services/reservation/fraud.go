package reservation

import (
	"context"
	"fmt"

	"homeclean/models"
	"homeclean/services/events"
)

// BypassThreshold is the number of recorded bypass attempts that blocks a
// reservation.
const BypassThreshold = 3

const OpRecordBypass Operation = "recordBypassAttempt"

// RecordBypassAttempt appends an attempt to pay or prove outside the platform.
// Reaching BypassThreshold blocks the reservation and, while it is still open
// and unperformed, cancels it. blocked reports whether this call did the block.
func (m *Machine) RecordBypassAttempt(ctx context.Context, id string, kind, details string, a Actor) (r *models.Reservation, blocked bool, err error) {
	r, err = m.mutate(ctx, id, OpRecordBypass, func(r *models.Reservation, o *outcome) error {
		blocked = false
		now := m.now()
		r.Fraud.BypassAttempts = append(r.Fraud.BypassAttempts, models.BypassAttempt{
			At:      now,
			Type:    kind,
			Details: details,
			Origin:  a.Origin,
			ActorID: a.ID,
		})
		r.Fraud.SuspiciousActivity = true
		o.changed = true

		if r.Fraud.Blocked || len(r.Fraud.BypassAttempts) < BypassThreshold {
			return nil
		}
		r.Fraud.Blocked = true
		r.Fraud.BlockedAt = &now
		r.Fraud.BlockedReason = fmt.Sprintf("%d bypass attempts", len(r.Fraud.BypassAttempts))
		if CanApply(OpCancel, r.Status) && !r.ExecutionProof.Validated && !r.PaymentSecurity.ProviderPaid {
			r.Status = models.StatusCancelled
			r.CancellationReason = r.Fraud.BlockedReason
			r.CancelledBy = System().String()
		}
		blocked = true
		o.emit(events.Blocked)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return r, blocked, nil
}
