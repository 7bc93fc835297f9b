package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homeclean/services/proof"
)

type ProofHandler struct {
	validator *proof.Validator
}

func NewProofHandler(v *proof.Validator) *ProofHandler {
	return &ProofHandler{validator: v}
}

// SubmitProofHandler validates an execution proof. The payout is queued, so a
// validated reservation whose provider is not paid yet answers 202.
func (h *ProofHandler) SubmitProofHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var sub proof.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid proof payload"})
		return
	}
	r, err := h.validator.Validate(c.Request.Context(), c.Param("id"), sub, a)
	if err != nil {
		respondError(c, err)
		return
	}
	if !r.PaymentSecurity.ProviderPaid {
		c.JSON(http.StatusAccepted, gin.H{"reservation": r, "payout": "pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation": r, "payout": "paid"})
}
