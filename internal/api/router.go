package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cast/internal/auth"
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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Read-only
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Post("/auth/ws-ticket", s.handleWSTicket)
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/discovered", s.handleListDiscovered)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/devices/{id}/capabilities", s.handleGetCapabilities)
				r.Get("/connections", s.handleListConnections)
			})

			// Receiver control
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))
				r.Post("/devices/{id}/commands/{command}", s.handleCommand)
				r.Get("/devices/{id}/volume", s.handleGetVolume)
				r.Get("/devices/{id}/playing", s.handleGetPlaying)
			})

			r.With(s.requirePermission(auth.PermSearch)).Get("/search/youtube", s.handleSearchYouTube)

			// Pairing
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDevicePair))
				r.Post("/devices", s.handlePairDevice)
				r.Delete("/devices/{id}", s.handleUnpairDevice)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
