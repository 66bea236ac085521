package router

import (
	"net/http"

	"github.com/pillowpotion/backend/internal/admin"
	"github.com/pillowpotion/backend/internal/auth"
	"github.com/pillowpotion/backend/internal/billing"
	"github.com/pillowpotion/backend/internal/dashboard"
	"github.com/pillowpotion/backend/internal/generation"
	"github.com/pillowpotion/backend/internal/middleware"
	"github.com/pillowpotion/backend/internal/webhook"
)

// New returns an http.Handler that serves the API under /api/v1. Routes are
// grouped by access level: public, bearer-token, admin-only, and the
// shared-secret webhook endpoint.
func New(
	validator middleware.TokenValidator,
	authHandler *auth.Handler,
	genHandler *generation.Handler,
	billingHandler *billing.Handler,
	dashHandler *dashboard.Handler,
	adminHandler *admin.Handler,
	webhookHandler *webhook.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	authed := middleware.JWTAuth(validator)
	user := func(h http.HandlerFunc) http.Handler {
		return authed(h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return authed(middleware.RequireAdmin(h))
	}

	// Public.
	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)
	mux.HandleFunc("GET "+base+"/plans", billingHandler.ListPlans)
	mux.HandleFunc("GET "+base+"/healthz", healthz)

	// Provider callbacks, authenticated by shared secret inside the handler.
	mux.HandleFunc("POST "+base+"/webhooks/generation", webhookHandler.Receive)

	// Signed-in accounts.
	mux.Handle("GET "+base+"/auth/me", user(authHandler.Me))
	mux.Handle("POST "+base+"/generations", user(genHandler.Create))
	mux.Handle("GET "+base+"/generations", user(genHandler.List))
	mux.Handle("GET "+base+"/generations/stats", user(genHandler.Stats))
	mux.Handle("GET "+base+"/generations/{id}", user(genHandler.Get))
	mux.Handle("GET "+base+"/credits", user(dashHandler.Credits))
	mux.Handle("GET "+base+"/credits/stats", user(dashHandler.CreditStats))
	mux.Handle("POST "+base+"/credit-requests", user(billingHandler.Submit))
	mux.Handle("GET "+base+"/credit-requests", user(billingHandler.ListMine))

	// Admin review surface.
	mux.Handle("GET "+base+"/admin/credit-requests", adminOnly(adminHandler.ListCreditRequests))
	mux.Handle("POST "+base+"/admin/credit-requests/{id}/approve", adminOnly(adminHandler.ApproveCreditRequest))
	mux.Handle("POST "+base+"/admin/credit-requests/{id}/reject", adminOnly(adminHandler.RejectCreditRequest))
	mux.Handle("POST "+base+"/admin/credits/adjust", adminOnly(adminHandler.AdjustCredits))
	mux.Handle("GET "+base+"/admin/audit-log", adminOnly(adminHandler.AuditLog))

	return mux
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
