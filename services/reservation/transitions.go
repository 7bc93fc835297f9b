package reservation

import (
	"homeclean/models"
	"homeclean/services/payerr"
)

type Operation string

const (
	OpAssignProvider       Operation = "assignProvider"
	OpSubmitEstimate       Operation = "submitEstimate"
	OpAttachCheckout       Operation = "attachCheckout"
	OpRecordClientPayment  Operation = "recordClientPayment"
	OpRecordPaymentFailure Operation = "recordPaymentFailure"
	OpReleaseAuthorization Operation = "releaseAuthorization"
	OpStartJob             Operation = "startJob"
	OpValidateExecution    Operation = "validateExecution"
	OpComplete             Operation = "complete"
	OpCancel               Operation = "cancel"
	OpRefuse               Operation = "refuse"
	OpMarkRefunded         Operation = "markRefunded"
	OpConfirmPayout        Operation = "confirmProviderPayout"
)

var (
	open = []models.ReservationStatus{
		models.StatusDraft, models.StatusAwaitingProvider, models.StatusAwaitingEstimate,
		models.StatusEstimated, models.StatusConfirmed, models.StatusInProgress,
	}
	secured = []models.ReservationStatus{models.StatusConfirmed, models.StatusInProgress}
)

// legalFrom lists, per operation, the business statuses it may start from.
var legalFrom = map[Operation][]models.ReservationStatus{
	OpAssignProvider:       {models.StatusDraft, models.StatusAwaitingProvider},
	OpSubmitEstimate:       {models.StatusAwaitingEstimate, models.StatusEstimated},
	OpAttachCheckout:       {models.StatusEstimated},
	OpRecordClientPayment:  {models.StatusEstimated, models.StatusConfirmed, models.StatusInProgress, models.StatusCompleted},
	OpRecordPaymentFailure: {models.StatusEstimated, models.StatusConfirmed, models.StatusInProgress},
	OpReleaseAuthorization: {models.StatusEstimated, models.StatusConfirmed, models.StatusInProgress, models.StatusCancelled},
	OpStartJob:             {models.StatusConfirmed},
	OpValidateExecution:    secured,
	OpComplete:             secured,
	OpCancel:               open,
	OpRefuse:               {models.StatusAwaitingEstimate, models.StatusEstimated},
	OpMarkRefunded:         {models.StatusCancelled},
	OpConfirmPayout:        {models.StatusConfirmed, models.StatusInProgress, models.StatusCompleted},
}

// CanApply reports whether op is legal from status.
func CanApply(op Operation, status models.ReservationStatus) bool {
	for _, s := range legalFrom[op] {
		if s == status {
			return true
		}
	}
	return false
}

func requireStatus(op Operation, r *models.Reservation) error {
	if !CanApply(op, r.Status) {
		return payerr.New(payerr.IllegalTransition, "%s not allowed from %s", op, r.Status)
	}
	return nil
}

func illegal(op Operation, format string, args ...interface{}) error {
	e := payerr.New(payerr.IllegalTransition, format, args...)
	e.Message = string(op) + ": " + e.Message
	return e
}
