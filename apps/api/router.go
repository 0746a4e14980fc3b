package main

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/auth"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *Handler, issuer *auth.Issuer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)
	r.Post("/auth/sync", h.SyncUser)

	r.Group(func(r chi.Router) {
		r.Use(issuer.RequireAuth)

		r.Get("/users/me", h.Me)
		r.Get("/users", h.ListUsers)
		r.Put("/users/me/online", h.SetOnline)

		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations", h.ListConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Get("/conversations/{id}/messages", h.ListMessages)
		r.Post("/conversations/{id}/messages", h.SendMessage)
		r.Put("/conversations/{id}/typing", h.SetTyping)
		r.Get("/conversations/{id}/typing", h.ListTyping)
		r.Post("/conversations/{id}/read", h.MarkRead)

		r.Delete("/messages/{id}", h.DeleteMessage)
		r.Post("/messages/{id}/reactions", h.ToggleReaction)

		r.Get("/unread", h.Unread)
	})

	return r
}
