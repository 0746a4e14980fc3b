// Package memory is an in-process Store. Every unit of work runs under one
// write lock, which makes it serializable; it backs tests and single-node
// development setups.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

type data struct {
	users      map[string]*model.User
	userOrder  []string
	byExternal map[string]string

	conversations map[string]*model.Conversation
	pairs         map[string]string

	messages       map[int64]*model.Message
	byConversation map[string][]int64

	typing map[string][]*model.TypingIndicator // conversation id -> rows
	unread map[string][]*model.UnreadCounter   // user id -> rows
}

// Store keeps all entities in maps guarded by a single RWMutex. Inside
// Atomic the handed-out Store shares the held lock and records an undo
// entry for every write so a failed unit leaves no trace.
type Store struct {
	mu   *sync.RWMutex
	data *data
	undo *[]func()
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu: &sync.RWMutex{},
		data: &data{
			users:          make(map[string]*model.User),
			byExternal:     make(map[string]string),
			conversations:  make(map[string]*model.Conversation),
			pairs:          make(map[string]string),
			messages:       make(map[int64]*model.Message),
			byConversation: make(map[string][]int64),
			typing:         make(map[string][]*model.TypingIndicator),
			unread:         make(map[string][]*model.UnreadCounter),
		},
	}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.undo != nil {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var undo []func()
	tx := &Store{mu: s.mu, data: s.data, undo: &undo}
	if err := fn(ctx, tx); err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) write() func() {
	if s.undo != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) read() func() {
	if s.undo != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) onRollback(fn func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, fn)
	}
}

// Users

func (s *Store) UpsertUser(_ context.Context, p model.Profile, now time.Time) (*model.User, error) {
	defer s.write()()

	if id, ok := s.data.byExternal[p.ExternalID]; ok {
		u := s.data.users[id]
		prev := *u
		s.onRollback(func() { *u = prev })

		u.Name = p.Name
		u.Email = p.Email
		u.AvatarURL = p.AvatarURL
		u.IsOnline = true
		u.LastSeen = now
		out := *u
		return &out, nil
	}

	u := &model.User{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Email:      p.Email,
		AvatarURL:  p.AvatarURL,
		IsOnline:   true,
		LastSeen:   now,
	}
	s.data.users[u.ID] = u
	s.data.byExternal[u.ExternalID] = u.ID
	s.data.userOrder = append(s.data.userOrder, u.ID)
	s.onRollback(func() {
		delete(s.data.users, u.ID)
		delete(s.data.byExternal, u.ExternalID)
		s.data.userOrder = s.data.userOrder[:len(s.data.userOrder)-1]
	})

	out := *u
	return &out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	defer s.read()()
	u, ok := s.data.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *Store) GetUserByExternalID(_ context.Context, externalID string) (*model.User, error) {
	defer s.read()()
	id, ok := s.data.byExternal[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *s.data.users[id]
	return &out, nil
}

func (s *Store) GetUsers(_ context.Context, ids []string) ([]model.User, error) {
	defer s.read()()
	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.data.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *Store) ListUsers(_ context.Context) ([]model.User, error) {
	defer s.read()()
	users := make([]model.User, 0, len(s.data.userOrder))
	for _, id := range s.data.userOrder {
		users = append(users, *s.data.users[id])
	}
	return users, nil
}

func (s *Store) SearchUsers(_ context.Context, term string) ([]model.User, error) {
	defer s.read()()
	term = strings.ToLower(term)
	users := make([]model.User, 0)
	for _, id := range s.data.userOrder {
		u := s.data.users[id]
		if strings.Contains(strings.ToLower(u.Name), term) {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *Store) SetOnline(_ context.Context, id string, online bool, now time.Time) error {
	defer s.write()()
	u, ok := s.data.users[id]
	if !ok {
		return store.ErrNotFound
	}
	prev := *u
	s.onRollback(func() { *u = prev })
	u.IsOnline = online
	u.LastSeen = now
	return nil
}

// Conversations

func (s *Store) CreateConversation(_ context.Context, c *model.Conversation) error {
	defer s.write()()

	if c.PairKey != "" {
		if _, taken := s.data.pairs[c.PairKey]; taken {
			return store.ErrConflict
		}
	}
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}

	stored := cloneConversation(c)
	s.data.conversations[c.ID] = stored
	if c.PairKey != "" {
		s.data.pairs[c.PairKey] = c.ID
	}
	s.onRollback(func() {
		delete(s.data.conversations, stored.ID)
		if stored.PairKey != "" {
			delete(s.data.pairs, stored.PairKey)
		}
	})
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	defer s.read()()
	c, ok := s.data.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *Store) FindConversationByPair(_ context.Context, pairKey string) (*model.Conversation, error) {
	defer s.read()()
	id, ok := s.data.pairs[pairKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConversation(s.data.conversations[id]), nil
}

func (s *Store) ListConversationsForUser(_ context.Context, userID string) ([]model.Conversation, error) {
	defer s.read()()
	out := make([]model.Conversation, 0)
	for _, c := range s.data.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *cloneConversation(c))
		}
	}
	return out, nil
}

func (s *Store) TouchConversation(_ context.Context, id string, at time.Time, preview string) error {
	defer s.write()()
	c, ok := s.data.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	prevTime, prevPreview := c.LastMessageTime, c.LastMessagePreview
	s.onRollback(func() {
		c.LastMessageTime = prevTime
		c.LastMessagePreview = prevPreview
	})
	c.LastMessageTime = &at
	c.LastMessagePreview = &preview
	return nil
}

// Messages

func (s *Store) InsertMessage(_ context.Context, m *model.Message) error {
	defer s.write()()
	if _, exists := s.data.messages[m.ID]; exists {
		return store.ErrConflict
	}
	stored := cloneMessage(m)
	s.data.messages[m.ID] = stored
	s.data.byConversation[m.ConversationID] = append(s.data.byConversation[m.ConversationID], m.ID)
	s.onRollback(func() {
		delete(s.data.messages, stored.ID)
		ids := s.data.byConversation[stored.ConversationID]
		s.data.byConversation[stored.ConversationID] = ids[:len(ids)-1]
	})
	return nil
}

func (s *Store) GetMessage(_ context.Context, id int64) (*model.Message, error) {
	defer s.read()()
	m, ok := s.data.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	defer s.read()()
	ids := s.data.byConversation[conversationID]
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneMessage(s.data.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkMessageDeleted(_ context.Context, id int64) error {
	defer s.write()()
	m, ok := s.data.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	prev := m.IsDeleted
	s.onRollback(func() { m.IsDeleted = prev })
	m.IsDeleted = true
	return nil
}

func (s *Store) ToggleReaction(_ context.Context, messageID int64, emoji, userID string, at time.Time) (bool, error) {
	defer s.write()()
	m, ok := s.data.messages[messageID]
	if !ok {
		return false, store.ErrNotFound
	}
	prev := append([]model.Reaction(nil), m.Reactions...)
	s.onRollback(func() { m.Reactions = prev })

	for i, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
			return false, nil
		}
	}
	m.Reactions = append(m.Reactions, model.Reaction{Emoji: emoji, UserID: userID, CreatedAt: at})
	return true, nil
}

// Typing

func (s *Store) SetTyping(_ context.Context, t model.TypingIndicator) error {
	defer s.write()()
	rows := s.data.typing[t.ConversationID]
	for _, row := range rows {
		if row.UserID == t.UserID {
			prev := *row
			s.onRollback(func() { *row = prev })
			row.IsTyping = t.IsTyping
			row.LastTyped = t.LastTyped
			return nil
		}
	}
	row := t
	s.data.typing[t.ConversationID] = append(rows, &row)
	s.onRollback(func() {
		cur := s.data.typing[t.ConversationID]
		s.data.typing[t.ConversationID] = cur[:len(cur)-1]
	})
	return nil
}

func (s *Store) ClearTyping(_ context.Context, userID, conversationID string) error {
	defer s.write()()
	for _, row := range s.data.typing[conversationID] {
		if row.UserID == userID {
			prev := row.IsTyping
			s.onRollback(func() { row.IsTyping = prev })
			row.IsTyping = false
			return nil
		}
	}
	return nil
}

func (s *Store) ListTyping(_ context.Context, conversationID string) ([]model.TypingIndicator, error) {
	defer s.read()()
	rows := s.data.typing[conversationID]
	out := make([]model.TypingIndicator, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

// Unread

func (s *Store) IncrementUnread(_ context.Context, userID, conversationID string) error {
	defer s.write()()
	rows := s.data.unread[userID]
	for _, row := range rows {
		if row.ConversationID == conversationID {
			s.onRollback(func() { row.Count-- })
			row.Count++
			return nil
		}
	}
	s.data.unread[userID] = append(rows, &model.UnreadCounter{
		UserID:         userID,
		ConversationID: conversationID,
		Count:          1,
	})
	s.onRollback(func() {
		cur := s.data.unread[userID]
		s.data.unread[userID] = cur[:len(cur)-1]
	})
	return nil
}

func (s *Store) ResetUnread(_ context.Context, userID, conversationID string, at time.Time) (bool, error) {
	defer s.write()()
	for _, row := range s.data.unread[userID] {
		if row.ConversationID == conversationID {
			prev := *row
			s.onRollback(func() { *row = prev })
			row.Count = 0
			row.LastRead = at
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListUnread(_ context.Context, userID string) ([]model.UnreadCounter, error) {
	defer s.read()()
	rows := s.data.unread[userID]
	out := make([]model.UnreadCounter, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessageTime != nil {
		t := *c.LastMessageTime
		out.LastMessageTime = &t
	}
	if c.LastMessagePreview != nil {
		p := *c.LastMessagePreview
		out.LastMessagePreview = &p
	}
	return &out
}

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	out.Reactions = append([]model.Reaction{}, m.Reactions...)
	return &out
}
