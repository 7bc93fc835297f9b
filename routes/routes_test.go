package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"homeclean/handlers"
	"homeclean/middleware"
	"homeclean/utils"
)

const (
	testSecret     = "routes-secret"
	testAdminToken = "routes-ops"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, &handlers.HandlerBundle{
		JWTSecret:    testSecret,
		AdminToken:   testAdminToken,
		Limiter:      middleware.NewRateLimiter(100),
		Reservations: handlers.NewReservationHandler(nil, nil),
		Proofs:       handlers.NewProofHandler(nil),
		Webhooks:     handlers.NewWebhookHandler(nil),
		Admin:        handlers.NewAdminHandler(nil, nil, nil, nil, nil, nil),
	})
	return r
}

func serve(r http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.test")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes(t *testing.T) {
	r := newRouter()
	provider, err := utils.GenerateToken(testSecret, "p1", "provider", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	client, err := utils.GenerateToken(testSecret, "c1", "client", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
	}{
		// No dependency check has run yet.
		{"health before first check", http.MethodGet, "/health", "", http.StatusServiceUnavailable},
		{"reservation without token", http.MethodGet, "/api/reservations/r1", "", http.StatusUnauthorized},
		{"create as provider", http.MethodPost, "/api/reservations", "Bearer " + provider, http.StatusForbidden},
		{"admin route as client", http.MethodGet, "/api/admin/alerts", "Bearer " + client, http.StatusUnauthorized},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.auth)
			if w.Code != tt.status {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.status, w.Body.String())
			}
			if w.Header().Get("Access-Control-Allow-Origin") == "" {
				t.Error("missing CORS header")
			}
		})
	}
}

func TestRegisterRoutesPreflight(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/reservations/r1/proof", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}
