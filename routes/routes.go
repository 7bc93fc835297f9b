package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"homeclean/handlers"
	"homeclean/middleware"
	"homeclean/services/reservation"
	"homeclean/utils"
)

// RegisterWebhookRoutes registers the payment provider callbacks. They carry
// their own signature and take no bearer token.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/webhooks")
	{
		api.POST("/stripe", hb.Webhooks.StripeWebhookHandler)
	}
}

// RegisterReservationRoutes registers the reservation lifecycle endpoints.
// Per-reservation ownership is checked by the state machine.
func RegisterReservationRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/reservations")
	{
		api.Use(middleware.JWTAuthMiddleware(hb.JWTSecret, hb.AdminToken))
		if hb.Limiter != nil {
			api.Use(hb.Limiter.Middleware())
		}
		api.POST("", middleware.RequireRole(reservation.RoleClient), hb.Reservations.CreateReservationHandler)
		api.GET("/:id", hb.Reservations.GetReservationHandler)
		api.POST("/:id/assign", hb.Reservations.AssignProviderHandler)
		api.POST("/:id/estimate", middleware.RequireRole(reservation.RoleProvider, reservation.RoleAdmin), hb.Reservations.SubmitEstimateHandler)
		api.POST("/:id/checkout", middleware.RequireRole(reservation.RoleClient), hb.Reservations.CreateCheckoutHandler)
		api.POST("/:id/start", hb.Reservations.StartJobHandler)
		api.POST("/:id/proof", hb.Proofs.SubmitProofHandler)
		api.POST("/:id/complete", hb.Reservations.CompleteHandler)
		api.POST("/:id/cancel", hb.Reservations.CancelHandler)
		api.POST("/:id/refuse", hb.Reservations.RefuseHandler)
		api.POST("/:id/payout", middleware.RequireRole(reservation.RoleAdmin), hb.Admin.PayoutHandler)
	}
}

// RegisterHealthRoute reports the last dependency check.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		status := utils.GetHealthStatus()
		if !status.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
	})
}

// RegisterAdminRoutes sets up endpoints for operators.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.Use(middleware.JWTAuthAdminMiddleware(hb.JWTSecret, hb.AdminToken))
		adminGroup.GET("/alerts", hb.Admin.ListAlertsHandler)
		adminGroup.POST("/alerts/:id/resolve", hb.Admin.ResolveAlertHandler)
		adminGroup.POST("/reconciliation/run", hb.Admin.RunReconciliationHandler)
		adminGroup.GET("/breakers", hb.Admin.BreakersHandler)
		adminGroup.POST("/reservations/:id/bypass", hb.Admin.RecordBypassHandler)
		adminGroup.GET("/reservations/:id/photos", hb.Admin.ProofPhotosHandler)
	}
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(utils.ErrorHandler())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r)
	RegisterWebhookRoutes(r, hb)
	RegisterReservationRoutes(r, hb)
	RegisterAdminRoutes(r, hb)
}
