package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homeclean/middleware"
	"homeclean/services/booking"
	"homeclean/services/reservation"
)

// ReservationHandler exposes the reservation transitions over HTTP.
type ReservationHandler struct {
	machine *reservation.Machine
	booking *booking.Service
}

func NewReservationHandler(m *reservation.Machine, b *booking.Service) *ReservationHandler {
	return &ReservationHandler{machine: m, booking: b}
}

func actor(c *gin.Context) (reservation.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
	}
	return a, ok
}

// CreateReservationHandler opens a reservation for the calling client. The
// execution PIN is returned here and never again.
func (h *ReservationHandler) CreateReservationHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	r, pin, err := h.machine.Create(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reservation": r, "pin": pin})
}

func (h *ReservationHandler) GetReservationHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	r, err := h.machine.Get(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) AssignProviderHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		ProviderID string `json:"providerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProviderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "providerId is required"})
		return
	}
	r, err := h.machine.AssignProvider(c.Request.Context(), c.Param("id"), req.ProviderID, a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) SubmitEstimateHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount in minor units is required"})
		return
	}
	r, err := h.machine.SubmitEstimate(c.Request.Context(), c.Param("id"), req.Amount, a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) CreateCheckoutHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req booking.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "successUrl and cancelUrl are required"})
		return
	}
	s, err := h.booking.CreateCheckout(c.Request.Context(), c.Param("id"), req, a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": s.ID, "url": s.URL})
}

func (h *ReservationHandler) StartJobHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	r, err := h.machine.StartJob(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) CompleteHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	r, err := h.machine.Complete(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *ReservationHandler) CancelHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	r, err := h.booking.Cancel(c.Request.Context(), c.Param("id"), req.Reason, a)
	if err != nil {
		respondError(c, err)
		return
	}
	getLogger(c).Info("Reservation cancelled",
		zap.String("reservationId", r.ID), zap.String("by", a.String()))
	c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) RefuseHandler(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	r, err := h.machine.Refuse(c.Request.Context(), c.Param("id"), req.Reason, a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
