package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-chat/pkg/auth"
)

type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *Handler) SetTyping(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req TypingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.member(w, r, conversationID); !ok {
		return
	}

	if err := h.svc.SetTyping(r.Context(), auth.UserFromContext(r.Context()), conversationID, req.IsTyping); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTyping returns who else is typing in the conversation right now.
func (h *Handler) ListTyping(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if _, ok := h.member(w, r, conversationID); !ok {
		return
	}

	users, err := h.svc.ListTyping(r.Context(), conversationID, auth.UserFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, users)
}
