package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/chat"
)

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if _, ok := h.member(w, r, conversationID); !ok {
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), conversationID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SendMessageResponse struct {
	ID int64 `json:"id,string"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.member(w, r, conversationID); !ok {
		return
	}

	id, err := h.svc.SendMessage(r.Context(), conversationID, auth.UserFromContext(r.Context()), req.Content)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, SendMessageResponse{ID: id})
}

// DeleteMessage soft-deletes one of the caller's own messages. A message
// that does not exist counts as already deleted.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.messageID(w, r)
	if !ok {
		return
	}

	msg, err := h.svc.GetMessage(r.Context(), id)
	if errors.Is(err, chat.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if msg.SenderID != auth.UserFromContext(r.Context()) {
		h.Error(w, http.StatusForbidden, "only the sender can delete a message")
		return
	}

	if err := h.svc.DeleteMessage(r.Context(), id); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.messageID(w, r)
	if !ok {
		return
	}
	var req ReactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.svc.GetMessage(r.Context(), id)
	if errors.Is(err, chat.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if _, ok := h.member(w, r, msg.ConversationID); !ok {
		return
	}

	if err := h.svc.ToggleReaction(r.Context(), id, auth.UserFromContext(r.Context()), req.Emoji); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) messageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}
