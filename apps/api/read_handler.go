package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if _, ok := h.member(w, r, conversationID); !ok {
		return
	}

	if err := h.svc.MarkRead(r.Context(), auth.UserFromContext(r.Context()), conversationID); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UnreadResponse struct {
	Total    int64                 `json:"total"`
	Counters []model.UnreadCounter `json:"counters"`
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	counters, err := h.svc.UnreadCounts(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, UnreadResponse{Total: chat.TotalUnread(counters), Counters: counters})
}
