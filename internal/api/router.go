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
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Sensor ingest surface (devices talk here)
		r.Route("/sensors", func(r chi.Router) {
			r.Post("/data", s.handleSensorData)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/events", s.handleEvent)
			r.Post("/events/food-input-before", s.handleFoodInputBefore)
			r.Post("/events/food-input-after", s.handleFoodInputAfter)
			r.Get("/request-logs", s.handleRequestLogs)
			r.Get("/{deviceId}/latest", s.handleLatest)
		})

		// Device and session queries
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{deviceId}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/sessions", s.handleListSessions)
				r.Get("/readings", s.handleListReadings)
			})
		})

		// Camera endpoints
		r.Route("/camera", func(r chi.Router) {
			r.Post("/register", s.handleRegisterCamera)

			r.Route("/{deviceId}", func(r chi.Router) {
				r.Get("/", s.handleGetCamera)
				r.Post("/capture", s.handleCompleteCapture)
				r.Get("/snapshots", s.handleListSnapshots)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
