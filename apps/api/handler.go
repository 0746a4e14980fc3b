package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/chat"
)

// maxBodySize caps request bodies; a full-length message is well below it.
const maxBodySize = 64 * 1024

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *chat.Service
	issuer *auth.Issuer
	health func(r *http.Request) error
	log    zerolog.Logger

	// syncSecret gates /auth/sync when set.
	syncSecret string
}

func NewHandler(svc *chat.Service, issuer *auth.Issuer, health func(r *http.Request) error, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, issuer: issuer, health: health, log: log}
}

// RequireSyncSecret makes /auth/sync answer 401 unless the request carries
// secret in the X-Sync-Secret header.
func (h *Handler) RequireSyncSecret(secret string) {
	h.syncSecret = secret
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a service error onto a status code.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.health(r); err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		h.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
