package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	IsGroup        bool     `json:"is_group"`
	GroupName      string   `json:"group_name"`
}

type CreateConversationResponse struct {
	ID string `json:"id"`
}

// CreateConversation opens a conversation with the listed users. The caller
// is added when missing, so a 1:1 request only needs the other user.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IsGroup && req.GroupName == "" {
		h.Error(w, http.StatusBadRequest, "group_name is required for groups")
		return
	}

	caller := auth.UserFromContext(r.Context())
	participants := req.ParticipantIDs
	found := false
	for _, id := range participants {
		if id == caller {
			found = true
			break
		}
	}
	if !found {
		participants = append([]string{caller}, participants...)
	}

	id, err := h.svc.GetOrCreateConversation(r.Context(), participants, req.IsGroup, req.GroupName)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, CreateConversationResponse{ID: id})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListConversations(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, convs)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.member(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// member loads the conversation and checks the caller takes part in it,
// answering 404 or 403 itself when not.
func (h *Handler) member(w http.ResponseWriter, r *http.Request, conversationID string) (*model.ConversationDetails, bool) {
	conv, err := h.svc.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.Fail(w, r, err)
		return nil, false
	}
	if !conv.HasParticipant(auth.UserFromContext(r.Context())) {
		h.Error(w, http.StatusForbidden, "not a participant of this conversation")
		return nil, false
	}
	return conv, true
}
