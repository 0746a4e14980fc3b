package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestUpsertUserCreatesThenRefreshes(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, err := s.UpsertUser(ctx, model.Profile{ExternalID: "ext-1", Name: "Asha"}, now)
	require.NoError(t, err)
	assert.True(t, u.IsOnline)

	require.NoError(t, s.SetOnline(ctx, u.ID, false, now))

	again, err := s.UpsertUser(ctx, model.Profile{ExternalID: "ext-1", Name: "Asha K"}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Asha K", again.Name)
	assert.True(t, again.IsOnline)
	assert.True(t, again.LastSeen.Equal(now.Add(time.Minute)))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSearchUsersIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"Asha", "Rashid", "Bob"} {
		_, err := s.UpsertUser(ctx, model.Profile{ExternalID: name, Name: name}, now)
		require.NoError(t, err)
	}

	users, err := s.SearchUsers(ctx, "ASH")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Asha", users[0].Name)
	assert.Equal(t, "Rashid", users[1].Name)
}

func TestCreateConversationRejectsTakenPair(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := &model.Conversation{Participants: []string{"a", "b"}, PairKey: model.PairKey("a", "b")}
	require.NoError(t, s.CreateConversation(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &model.Conversation{Participants: []string{"b", "a"}, PairKey: model.PairKey("b", "a")}
	assert.ErrorIs(t, s.CreateConversation(ctx, second), store.ErrConflict)

	found, err := s.FindConversationByPair(ctx, model.PairKey("b", "a"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &model.Conversation{Participants: []string{"a", "b"}}
	require.NoError(t, s.CreateConversation(ctx, c))
	require.NoError(t, s.IncrementUnread(ctx, "b", c.ID))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		require.NoError(t, tx.InsertMessage(ctx, &model.Message{ID: 1, ConversationID: c.ID, SenderID: "a", Content: "hi"}))
		require.NoError(t, tx.TouchConversation(ctx, c.ID, now, "hi"))
		require.NoError(t, tx.IncrementUnread(ctx, "b", c.ID))
		require.NoError(t, tx.IncrementUnread(ctx, "c", c.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessageTime)
	assert.Nil(t, got.LastMessagePreview)

	counters, err := s.ListUnread(ctx, "b")
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, int64(1), counters[0].Count)

	counters, err = s.ListUnread(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, counters)
}

func TestToggleReactionIsAnInvolution(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertMessage(ctx, &model.Message{ID: 7, ConversationID: "c"}))

	added, err := s.ToggleReaction(ctx, 7, "👍", "a", now)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.ToggleReaction(ctx, 7, "👍", "a", now)
	require.NoError(t, err)
	assert.False(t, added)

	m, err := s.GetMessage(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, m.Reactions)

	_, err = s.ToggleReaction(ctx, 8, "👍", "a", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentReactionsAreAllKept(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertMessage(ctx, &model.Message{ID: 1, ConversationID: "c"}))

	users := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := s.ToggleReaction(ctx, 1, "🔥", u, now)
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	m, err := s.GetMessage(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, m.Reactions, len(users))
}

func TestClearTypingWithoutRowIsNoop(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.ClearTyping(ctx, "a", "c"))
	rows, err := s.ListTyping(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, s.SetTyping(ctx, model.TypingIndicator{UserID: "a", ConversationID: "c", IsTyping: true, LastTyped: now}))
	require.NoError(t, s.ClearTyping(ctx, "a", "c"))
	rows, err = s.ListTyping(ctx, "c")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsTyping)
	assert.True(t, rows[0].LastTyped.Equal(now))
}

func TestResetUnreadOnlyTouchesExistingRows(t *testing.T) {
	ctx := context.Background()
	s := New()

	ok, err := s.ResetUnread(ctx, "a", "c", now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.IncrementUnread(ctx, "a", "c"))
	require.NoError(t, s.IncrementUnread(ctx, "a", "c"))
	ok, err = s.ResetUnread(ctx, "a", "c", now)
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := s.ListUnread(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].Count)
	assert.True(t, rows[0].LastRead.Equal(now))
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &model.Conversation{Participants: []string{"a", "b"}}
	require.NoError(t, s.CreateConversation(ctx, c))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	got.Participants[0] = "z"

	again, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, again.Participants)
}
