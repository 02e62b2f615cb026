package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			// Credential endpoints are throttled per client address.
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
				r.Post("/guest", s.handleGuestLogin)
				r.Post("/check-email", s.handleCheckEmail)
				r.Post("/sync-password", s.handleSyncPassword)
			})
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Delete("/guest", s.handleDeleteGuest)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/profile", s.handleGetProfile)
				r.Put("/profile", s.handleUpdateProfile)

				r.Route("/friends", func(r chi.Router) {
					r.Get("/", s.handleListFriends)
					r.Post("/request", s.handleFriendRequest)
					r.Put("/accept", s.handleFriendAccept)
				})
			})

			r.Get("/{id}", s.handlePublicProfile)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(requireAdmin)

			r.Get("/users", s.handleListUsers)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteUser)
				r.Post("/lock", s.handleLockUser)
				r.Delete("/sessions", s.handleRevokeUserSessions)
				r.With(requireOwn).Put("/role", s.handleChangeRole)
			})

			r.Get("/audit", s.handleListAuditLogs)
			r.Get("/metrics", s.handleMetrics)
		})
	})

	return r
}

// handleHealth returns liveness and version.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
