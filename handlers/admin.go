package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
	"homeclean/services/alert"
	"homeclean/services/reconciliation"
	"homeclean/services/reservation"
	"homeclean/services/resilience"
	"homeclean/services/storage"
)

const photoURLTTL = 15 * time.Minute

// Payer sends a provider payout synchronously.
type Payer interface {
	Pay(ctx context.Context, id string) (*models.Reservation, error)
}

// AdminHandler serves the operator surface: alerts, reconciliation, breaker
// state and manual payouts.
type AdminHandler struct {
	machine    *reservation.Machine
	alerts     *alert.Service
	reconciler *reconciliation.Service
	payer      Payer
	guard      *resilience.Guard
	photos     storage.PhotoStore
}

func NewAdminHandler(
	m *reservation.Machine,
	alerts *alert.Service,
	reconciler *reconciliation.Service,
	payer Payer,
	guard *resilience.Guard,
	photos storage.PhotoStore,
) *AdminHandler {
	return &AdminHandler{
		machine:    m,
		alerts:     alerts,
		reconciler: reconciler,
		payer:      payer,
		guard:      guard,
		photos:     photos,
	}
}

// ListAlertsHandler filters alerts by type, severity and resolved flag.
func (ah *AdminHandler) ListAlertsHandler(c *gin.Context) {
	q := repository.AlertQuery{
		Type:     models.AlertType(c.Query("type")),
		Severity: models.AlertSeverity(c.Query("severity")),
	}
	if v := c.Query("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be true or false"})
			return
		}
		q.Resolved = repository.Bool(resolved)
	}
	if v := c.Query("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	alerts, err := ah.alerts.List(c.Request.Context(), q)
	if err != nil {
		respondOperatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (ah *AdminHandler) ResolveAlertHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "note is required"})
		return
	}
	resolved, err := ah.alerts.Resolve(c.Request.Context(), c.Param("id"), req.Note, a.ID)
	if err != nil {
		respondOperatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// RunReconciliationHandler runs one sweep inline and returns its counters.
func (ah *AdminHandler) RunReconciliationHandler(c *gin.Context) {
	res, err := ah.reconciler.Sweep(c.Request.Context())
	if err != nil {
		respondOperatorError(c, err)
		return
	}
	getLogger(c).Info("Manual reconciliation finished",
		zap.Int("repaired", res.Repaired), zap.Int("alerts", res.AlertsRaised))
	c.JSON(http.StatusOK, res)
}

func (ah *AdminHandler) BreakersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": ah.guard.Statuses()})
}

// PayoutHandler retries the provider payout of one reservation now.
func (ah *AdminHandler) PayoutHandler(c *gin.Context) {
	r, err := ah.payer.Pay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondOperatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// RecordBypassHandler logs an attempt to pay or prove outside the platform
// reported by support.
func (ah *AdminHandler) RecordBypassHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		Type    string `json:"type"`
		Details string `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	r, blocked, err := ah.machine.RecordBypassAttempt(c.Request.Context(), c.Param("id"), req.Type, req.Details, a)
	if err != nil {
		respondOperatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation": r, "blocked": blocked})
}

// ProofPhotosHandler returns short-lived signed URLs for the photos stored as
// execution proof.
func (ah *AdminHandler) ProofPhotosHandler(c *gin.Context) {
	r, err := ah.machine.Get(c.Request.Context(), c.Param("id"), reservation.System())
	if err != nil {
		respondOperatorError(c, err)
		return
	}
	if ah.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage not configured"})
		return
	}
	urls := make([]string, 0, len(r.ExecutionProof.ProofData.Photos))
	for _, ref := range r.ExecutionProof.ProofData.Photos {
		urls = append(urls, ah.photos.SignedURL(ref, photoURLTTL))
	}
	c.JSON(http.StatusOK, gin.H{"photos": urls, "expiresIn": int(photoURLTTL.Seconds())})
}
