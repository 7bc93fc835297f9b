package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homeclean/services/payerr"
	"homeclean/services/webhook"
)

// maxWebhookBody matches Stripe's own delivery limit.
const maxWebhookBody = 65536

type WebhookHandler struct {
	processor *webhook.Processor
}

func NewWebhookHandler(p *webhook.Processor) *WebhookHandler {
	return &WebhookHandler{processor: p}
}

// StripeWebhookHandler reads the raw body untouched; the signature covers the
// exact bytes.
func (h *WebhookHandler) StripeWebhookHandler(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not read body"})
		return
	}
	err = h.processor.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case payerr.CodeOf(err) == payerr.InvalidSignature:
		getLogger(c).Warn("Rejected webhook with bad signature", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	default:
		getLogger(c).Error("Webhook could not be recorded, asking for redelivery", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry later"})
	}
}
