package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - the caller must be logged
			// in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/health", s.handleDeviceHealth)
					r.Get("/info", s.handleDeviceInfo)
					r.Get("/snapshot", s.handleSnapshot)
					r.Get("/rings", s.handleListRings)
					r.Get("/relays", s.handleListRelays)
					r.Get("/relays/{index}", s.handleGetRelay)
					r.Post("/relays/{index}/command", s.handleRelayCommand)
				})
			})

			// Ring history
			r.Get("/rings", s.handleListRings)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status and per-device availability.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	devices := make(map[string]any)
	for id, health := range s.manager.HealthAll() {
		devices[id] = health
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"devices": devices,
	})
}
