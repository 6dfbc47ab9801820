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
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (bearer token or ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/ws-ticket", s.handleWSTicket)

			r.Route("/automations", func(r chi.Router) {
				r.Get("/", s.handleListAutomations)
				r.Post("/", s.handleCreateAutomation)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAutomation)
					r.Patch("/", s.handleUpdateAutomation)
					r.Delete("/", s.handleDeleteAutomation)
					r.Post("/start", s.handleStartAutomation)
					r.Post("/stop", s.handleStopAutomation)
					r.Post("/irrigate", s.handleIrrigate)
					r.Get("/status", s.handleAutomationStatus)
					r.Get("/history", s.handleAutomationHistory)
					r.Get("/statistics", s.handleAutomationStatistics)
				})
			})

			r.Get("/history", s.handleAllHistory)

			r.Route("/plants", func(r chi.Router) {
				r.Get("/", s.handleListPlants)
				r.Post("/", s.handleCreatePlant)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetPlant)
					r.Put("/", s.handlePutPlant)
					r.Delete("/", s.handleDeletePlant)
					r.Get("/reading", s.handleLatestReading)
					r.Get("/prediction", s.handlePrediction)
					r.Get("/alerts", s.handleAlerts)
					r.Post("/optimize", s.handleOptimize)
				})
			})

			r.Get("/algorithms", s.handleListAlgorithms)
			r.Get("/audit-logs", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"automations":       len(s.engine.GetAllAutomations()),
		"websocket_clients": clients,
	})
}
