package main

import (
	"crypto/subtle"
	"net/http"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

type SyncResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// SyncHeader carries the secret shared with the identity provider.
const SyncHeader = "X-Sync-Secret"

// SyncUser takes the identity provider's profile for the signed-in user,
// upserts it and hands back a session token.
func (h *Handler) SyncUser(w http.ResponseWriter, r *http.Request) {
	if h.syncSecret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(SyncHeader)), []byte(h.syncSecret)) != 1 {
		h.Error(w, http.StatusUnauthorized, "invalid sync secret")
		return
	}

	var req model.Profile
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.SyncUser(r.Context(), req)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	token, err := h.issuer.GenerateToken(user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	h.JSON(w, http.StatusOK, SyncResponse{User: user, Token: token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, user)
}

// ListUsers returns everyone but the caller, filtered by ?q= when given.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users(r.Context(), r.URL.Query().Get("q"), auth.UserFromContext(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, users)
}

type OnlineRequest struct {
	Online bool `json:"online"`
}

func (h *Handler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req OnlineRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetOnline(r.Context(), auth.UserFromContext(r.Context()), req.Online); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
