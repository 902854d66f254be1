package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/transponder/internal/auth"
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
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(requirePermission(auth.PermSystemStatus)).Get("/system", s.handleSystem)

			r.Route("/stations", func(r chi.Router) {
				r.Use(requirePermission(auth.PermStationRead))
				r.Get("/", s.handleListStations)
				r.Get("/{id}", s.handleGetStation)
				r.With(requirePermission(auth.PermMessageRead)).Get("/{id}/messages", s.handleStationHistory)
			})

			r.Route("/messages/{id}", func(r chi.Router) {
				r.With(requirePermission(auth.PermMessageRead)).Get("/", s.handleGetMessage)
				r.With(requirePermission(auth.PermAudioRead)).Get("/audio", s.handleMessageAudio)
			})

			r.Route("/uploads/failed", func(r chi.Router) {
				r.With(requirePermission(auth.PermUploadRead)).Get("/", s.handleListFailedUploads)
				r.With(requirePermission(auth.PermUploadRetry)).Post("/{id}/retry", s.handleRetryUpload)
			})

			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}
