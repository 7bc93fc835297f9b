package handlers

import "homeclean/middleware"

// HandlerBundle groups the endpoint handlers and what the router's middleware
// needs.
type HandlerBundle struct {
	JWTSecret  string
	AdminToken string
	Limiter    *middleware.RateLimiter

	Reservations *ReservationHandler
	Proofs       *ProofHandler
	Webhooks     *WebhookHandler
	Admin        *AdminHandler
}
