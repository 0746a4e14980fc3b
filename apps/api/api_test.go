package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store/memory"
)

type testServer struct {
	srv  *httptest.Server
	down atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, func(*Handler) {})
}

func newTestServerWith(t *testing.T, setup func(h *Handler)) *testServer {
	t.Helper()
	ts := &testServer{}
	st := memory.New()
	issuer := auth.NewIssuer("test-secret")
	health := func(r *http.Request) error {
		if ts.down.Load() {
			return errors.New("down")
		}
		return st.Ping(r.Context())
	}
	h := NewHandler(chat.New(st), issuer, health, zerolog.Nop())
	setup(h)
	ts.srv = httptest.NewServer(NewRouter(zerolog.Nop(), h, issuer))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// login syncs a profile and returns the user id and session token.
func (ts *testServer) login(t *testing.T, name string) (string, string) {
	t.Helper()
	var res SyncResponse
	status := ts.do(t, http.MethodPost, "/auth/sync", "", model.Profile{ExternalID: "ext-" + name, Name: name}, &res)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, res.Token)
	return res.User.ID, res.Token
}

func (ts *testServer) dm(t *testing.T, token, otherID string) string {
	t.Helper()
	var res CreateConversationResponse
	status := ts.do(t, http.MethodPost, "/conversations", token, CreateConversationRequest{ParticipantIDs: []string{otherID}}, &res)
	require.Equal(t, http.StatusCreated, status)
	return res.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "ok", body["status"])

	ts.down.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/health", "", nil, nil))
}

func TestSyncAndMe(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.login(t, "alice")

	var me model.User
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/users/me", token, nil, &me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "alice", me.Name)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me", "garbage", nil, nil))
}

func TestSyncRequiresExternalID(t *testing.T) {
	ts := newTestServer(t)
	status := ts.do(t, http.MethodPost, "/auth/sync", "", model.Profile{Name: "nobody"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestListUsersExcludesCaller(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.login(t, "alice")
	bobID, _ := ts.login(t, "bob")

	var users []model.User
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/users?q=BO", token, nil, &users))
	require.Len(t, users, 1)
	assert.Equal(t, bobID, users[0].ID)
}

func TestCreateConversationAddsCaller(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.login(t, "alice")
	bobID, bob := ts.login(t, "bob")

	id := ts.dm(t, alice, bobID)
	assert.Equal(t, id, ts.dm(t, bob, aliceID))

	var conv model.ConversationDetails
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id, alice, nil, &conv))
	assert.ElementsMatch(t, []string{aliceID, bobID}, conv.Participants)

	var list []model.ConversationDetails
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations", bob, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestGroupNeedsName(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")
	bobID, _ := ts.login(t, "bob")

	req := CreateConversationRequest{ParticipantIDs: []string{bobID}, IsGroup: true}
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/conversations", alice, req, nil))
}

func TestConversationAccess(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")
	bobID, _ := ts.login(t, "bob")
	_, carol := ts.login(t, "carol")
	id := ts.dm(t, alice, bobID)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/conversations/"+id, carol, nil, nil))
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/conversations/"+id+"/messages", carol, nil, nil))
	assert.Equal(t, http.StatusForbidden,
		ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", carol, SendMessageRequest{Content: "hi"}, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/conversations/missing", alice, nil, nil))
}

func TestSendAndListMessages(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.login(t, "alice")
	bobID, bob := ts.login(t, "bob")
	id := ts.dm(t, alice, bobID)

	var sent SendMessageResponse
	require.Equal(t, http.StatusCreated,
		ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", alice, SendMessageRequest{Content: "hello"}, &sent))
	assert.NotZero(t, sent.ID)

	var msgs []model.MessageWithSender
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id+"/messages", bob, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
	require.NotNil(t, msgs[0].Sender)
	assert.Equal(t, aliceID, msgs[0].Sender.ID)

	var unread UnreadResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/unread", bob, nil, &unread))
	assert.Equal(t, int64(1), unread.Total)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/conversations/"+id+"/read", bob, nil, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/unread", bob, nil, &unread))
	assert.Equal(t, int64(0), unread.Total)
}

func TestSendRejectsLongContent(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")
	bobID, _ := ts.login(t, "bob")
	id := ts.dm(t, alice, bobID)

	long := strings.Repeat("a", model.MaxContentLength+1)
	status := ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", alice, SendMessageRequest{Content: long}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestDeleteOnlyBySender(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")
	bobID, bob := ts.login(t, "bob")
	id := ts.dm(t, alice, bobID)

	var sent SendMessageResponse
	require.Equal(t, http.StatusCreated,
		ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", alice, SendMessageRequest{Content: "oops"}, &sent))
	path := "/messages/" + strconv.FormatInt(sent.ID, 10)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, path, bob, nil, nil))
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, alice, nil, nil))
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, alice, nil, nil))
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/messages/12345", alice, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, "/messages/abc", alice, nil, nil))

	var msgs []model.MessageWithSender
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id+"/messages", bob, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
}

func TestToggleReaction(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")
	bobID, bob := ts.login(t, "bob")
	_, carol := ts.login(t, "carol")
	id := ts.dm(t, alice, bobID)

	var sent SendMessageResponse
	require.Equal(t, http.StatusCreated,
		ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", alice, SendMessageRequest{Content: "hi"}, &sent))
	path := "/messages/" + strconv.FormatInt(sent.ID, 10) + "/reactions"

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, path, bob, ReactionRequest{Emoji: "👍"}, nil))
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, path, carol, ReactionRequest{Emoji: "👍"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, path, bob, ReactionRequest{}, nil))

	var msgs []model.MessageWithSender
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id+"/messages", alice, nil, &msgs))
	require.Len(t, msgs[0].ReactionGroups, 1)
	assert.Equal(t, []string{bobID}, msgs[0].ReactionGroups[0].Users)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, path, bob, ReactionRequest{Emoji: "👍"}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id+"/messages", alice, nil, &msgs))
	assert.Empty(t, msgs[0].ReactionGroups)
}

func TestTyping(t *testing.T) {
	ts := newTestServer(t)
	aliceID, alice := ts.login(t, "alice")
	bobID, bob := ts.login(t, "bob")
	id := ts.dm(t, alice, bobID)

	assert.Equal(t, http.StatusNoContent,
		ts.do(t, http.MethodPut, "/conversations/"+id+"/typing", alice, TypingRequest{IsTyping: true}, nil))

	var typing []model.User
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id+"/typing", bob, nil, &typing))
	require.Len(t, typing, 1)
	assert.Equal(t, aliceID, typing[0].ID)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id+"/typing", alice, nil, &typing))
	assert.Empty(t, typing)
}

func TestSetOnline(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")

	var me model.User
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/users/me", alice, nil, &me))
	assert.True(t, me.IsOnline)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/users/me/online", alice, OnlineRequest{Online: false}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/users/me", alice, nil, &me))
	assert.False(t, me.IsOnline)
}

func TestInvalidBody(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.login(t, "alice")

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/conversations", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncRequiresSharedSecret(t *testing.T) {
	ts := newTestServerWith(t, func(h *Handler) { h.RequireSyncSecret("shared") })
	profile := model.Profile{ExternalID: "ext-alice", Name: "alice"}

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/auth/sync", "", profile, nil))

	sync := func(secret string) int {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(profile))
		req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/auth/sync", &buf)
		require.NoError(t, err)
		req.Header.Set(SyncHeader, secret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusUnauthorized, sync("guess"))
	assert.Equal(t, http.StatusOK, sync("shared"))
}
