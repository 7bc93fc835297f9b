package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homeclean/services/payerr"
	"homeclean/utils"
)

var statusFor = map[payerr.Code]int{
	payerr.InvalidAmount:            http.StatusUnprocessableEntity,
	payerr.InvalidProof:             http.StatusUnprocessableEntity,
	payerr.IllegalTransition:        http.StatusConflict,
	payerr.CaptureFailed:            http.StatusPaymentRequired,
	payerr.NotFound:                 http.StatusNotFound,
	payerr.Forbidden:                http.StatusForbidden,
	payerr.Conflict:                 http.StatusConflict,
	payerr.InvalidSignature:         http.StatusBadRequest,
	payerr.PayoutDestinationMissing: http.StatusServiceUnavailable,
	payerr.PayoutFailed:             http.StatusServiceUnavailable,
	payerr.CircuitOpen:              http.StatusServiceUnavailable,
}

// Fixed messages for clients and providers; the detailed text is only logged.
var publicMessage = map[payerr.Code]string{
	payerr.InvalidAmount:     "amount does not match the estimate",
	payerr.InvalidProof:      "proof of execution was not accepted",
	payerr.IllegalTransition: "this action is not possible for the reservation right now",
	payerr.CaptureFailed:     "payment could not be confirmed, try again",
	payerr.NotFound:          "reservation not found",
	payerr.Forbidden:         "not allowed",
	payerr.Conflict:          "the reservation changed, try again",
	payerr.InvalidSignature:  "invalid signature",
}

// respondError writes err for a client or provider caller. Operator-only
// failures collapse into a generic 503.
func respondError(c *gin.Context, err error) {
	code := payerr.CodeOf(err)
	status, known := statusFor[code]
	log := getLogger(c)
	if !known {
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "", "Internal Server Error")
		return
	}
	if !payerr.ClientVisible(code) {
		log.Warn("Operator-only failure hidden from caller", zap.String("code", string(code)), zap.Error(err))
		utils.JSONError(c, http.StatusServiceUnavailable, "", "service temporarily unavailable, try again later")
		return
	}
	log.Info("Request rejected", zap.String("code", string(code)), zap.Error(err))
	utils.JSONError(c, status, string(code), publicMessage[code])
}

// respondOperatorError writes err in full for admin callers.
func respondOperatorError(c *gin.Context, err error) {
	code := payerr.CodeOf(err)
	status, known := statusFor[code]
	if !known {
		getLogger(c).Error("Admin request failed", zap.String("path", c.FullPath()), zap.Error(err))
		status = http.StatusInternalServerError
	}
	utils.JSONError(c, status, string(code), err.Error())
}
