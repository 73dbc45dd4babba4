package api

import (
	"net/http"
	"time"

	"github.com/erazemk/evidenca/internal/registry"
	"github.com/erazemk/evidenca/internal/store"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Registry  *registry.Registry
	Store     store.Store
	JWTSecret string
	// ActivationRate is the number of activation attempts allowed per client
	// address per minute. Zero disables the throttle.
	ActivationRate int
	ReapBatch      int
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(deps Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{Store: deps.Store, JWTSecret: deps.JWTSecret}
	reservationsHandler := &ReservationsHandler{Registry: deps.Registry}
	webhooksHandler := &WebhooksHandler{Registry: deps.Registry}
	unitsHandler := &UnitsHandler{Registry: deps.Registry}
	adminHandler := &AdminHandler{Registry: deps.Registry, ReapBatch: deps.ReapBatch}

	authMW := AuthMiddleware(deps.JWTSecret, deps.Store)
	throttle := NewThrottle(deps.ActivationRate, time.Minute)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Storefront and commerce platform.
	mux.HandleFunc("POST /api/reservations", reservationsHandler.Create)
	mux.HandleFunc("POST /api/webhooks/orders", webhooksHandler.Orders)

	// Owners and the public.
	mux.Handle("POST /api/units/{id}/activate", throttle.Middleware(http.HandlerFunc(unitsHandler.Activate)))
	mux.HandleFunc("GET /api/units/{id}/proof", unitsHandler.Proof)
	mux.HandleFunc("GET /api/commitment", unitsHandler.Commitment)

	// Auth.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Admin.
	mux.Handle("GET /api/admin/stats", authMW(http.HandlerFunc(adminHandler.Stats)))
	mux.Handle("GET /api/admin/units/{id}", authMW(http.HandlerFunc(adminHandler.Unit)))
	mux.Handle("POST /api/admin/units", authMW(http.HandlerFunc(adminHandler.SeedUnits)))
	mux.Handle("POST /api/admin/units/{id}/proof-token", authMW(http.HandlerFunc(adminHandler.IssueProofToken)))
	mux.Handle("POST /api/admin/reaper/run", authMW(http.HandlerFunc(adminHandler.RunReaper)))
	mux.Handle("POST /api/admin/commitment", authMW(http.HandlerFunc(adminHandler.Commit)))
	mux.Handle("POST /api/admin/commitment/reveal", authMW(http.HandlerFunc(adminHandler.Reveal)))

	return mux
}
