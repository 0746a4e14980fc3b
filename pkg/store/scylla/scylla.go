// Package scylla is the ScyllaDB Store. Scylla has no multi-partition
// transactions: uniqueness comes from lightweight transactions on lookup
// tables, unread counts from counter columns, and Atomic simply runs fn.
// Callers serialize writes per conversation.
package scylla

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// reactionChunk bounds the IN list when loading reactions for a page of
// messages.
const reactionChunk = 100

type Store struct {
	session *db.Session
	log     zerolog.Logger
}

var _ store.Store = (*Store)(nil)

func New(session *db.Session, log zerolog.Logger) *Store {
	return &Store{session: session, log: log}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, s)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}

func (s *Store) query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.session.Query(stmt, values...).WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return store.ErrNotFound
	}
	return err
}

// Users

const userColumns = `id, external_id, name, email, avatar_url, is_online, last_seen`

func scanUser(scan func(dest ...any) error) (*model.User, error) {
	var u model.User
	if err := scan(&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.AvatarURL, &u.IsOnline, &u.LastSeen); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

type userRow struct {
	model.User
	createdAt time.Time
}

func (s *Store) scanUsers(iter *gocql.Iter) ([]userRow, error) {
	var rows []userRow
	for {
		var r userRow
		if !iter.Scan(&r.ID, &r.ExternalID, &r.Name, &r.Email, &r.AvatarURL, &r.IsOnline, &r.LastSeen, &r.createdAt) {
			break
		}
		rows = append(rows, r)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].createdAt.Before(rows[j].createdAt) })
	return rows, nil
}

func (s *Store) UpsertUser(ctx context.Context, p model.Profile, now time.Time) (*model.User, error) {
	id := uuid.Must(uuid.NewV7()).String()

	existing := map[string]any{}
	applied, err := s.query(ctx, `INSERT INTO users_by_external (external_id, user_id) VALUES (?, ?) IF NOT EXISTS`,
		p.ExternalID, id).MapScanCAS(existing)
	if err != nil {
		return nil, err
	}
	if !applied {
		id, _ = existing["user_id"].(string)
	} else {
		if err := s.query(ctx, `UPDATE users SET created_at = ? WHERE id = ?`, now, id).Exec(); err != nil {
			return nil, err
		}
	}

	err = s.query(ctx, `
		UPDATE users SET external_id = ?, name = ?, email = ?, avatar_url = ?, is_online = true, last_seen = ?
		WHERE id = ?
	`, p.ExternalID, p.Name, p.Email, p.AvatarURL, now, id).Exec()
	if err != nil {
		return nil, err
	}

	return &model.User{
		ID:         id,
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Email:      p.Email,
		AvatarURL:  p.AvatarURL,
		IsOnline:   true,
		LastSeen:   now,
	}, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id).Scan)
}

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var id string
	if err := s.query(ctx, `SELECT user_id FROM users_by_external WHERE external_id = ?`, externalID).Scan(&id); err != nil {
		return nil, notFound(err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	rows, err := s.scanUsers(s.query(ctx, `SELECT `+userColumns+`, created_at FROM users WHERE id IN ?`, ids).Iter())
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.User, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.User
	}
	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.scanUsers(s.query(ctx, `SELECT `+userColumns+`, created_at FROM users`).Iter())
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.User)
	}
	return users, nil
}

// SearchUsers scans the users table; Scylla has no substring index.
func (s *Store) SearchUsers(ctx context.Context, term string) ([]model.User, error) {
	all, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	users := make([]model.User, 0)
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Name), term) {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool, now time.Time) error {
	applied, err := s.query(ctx, `UPDATE users SET is_online = ?, last_seen = ? WHERE id = ? IF EXISTS`,
		online, now, id).ScanCAS()
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

// Conversations

const conversationColumns = `id, is_group, group_name, participants, pair_key, last_message_time, last_message_preview, created_at`

func scanConversation(scan func(dest ...any) error) (*model.Conversation, error) {
	var (
		c           model.Conversation
		lastMessage time.Time
		preview     string
	)
	if err := scan(&c.ID, &c.IsGroup, &c.GroupName, &c.Participants, &c.PairKey, &lastMessage, &preview, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if !lastMessage.IsZero() {
		c.LastMessageTime = &lastMessage
		c.LastMessagePreview = &preview
	}
	return &c, nil
}

// CreateConversation writes the conversation row before claiming the pair
// key, so a claimed key always resolves. The loser of a race removes its
// row again.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}

	err := s.query(ctx, `
		INSERT INTO conversations (id, is_group, group_name, participants, pair_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.IsGroup, c.GroupName, c.Participants, c.PairKey, c.CreatedAt).Exec()
	if err != nil {
		return err
	}

	// Membership goes in before the pair claim, so a claimed pair always
	// shows up in its participants' lists.
	if err := s.linkParticipants(ctx, c, `INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`); err != nil {
		return err
	}
	if c.PairKey == "" {
		return nil
	}

	applied, err := s.query(ctx, `INSERT INTO conversations_by_pair (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		c.PairKey, c.ID).MapScanCAS(map[string]any{})
	if err == nil && applied {
		return nil
	}
	if derr := s.linkParticipants(ctx, c, `DELETE FROM user_conversations WHERE user_id = ? AND conversation_id = ?`); derr != nil {
		s.log.Warn().Err(derr).Str("conversation_id", c.ID).Msg("failed to remove orphaned membership")
	}
	if derr := s.query(ctx, `DELETE FROM conversations WHERE id = ?`, c.ID).Exec(); derr != nil {
		s.log.Warn().Err(derr).Str("conversation_id", c.ID).Msg("failed to remove orphaned conversation")
	}
	if err != nil {
		return err
	}
	return store.ErrConflict
}

// linkParticipants runs stmt once per participant of c, binding the user
// and conversation ids.
func (s *Store) linkParticipants(ctx context.Context, c *model.Conversation, stmt string) error {
	b := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, p := range c.Participants {
		b.Query(stmt, p, c.ID)
	}
	return s.session.ExecuteBatch(b)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return scanConversation(s.query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id).Scan)
}

func (s *Store) FindConversationByPair(ctx context.Context, pairKey string) (*model.Conversation, error) {
	var id string
	if err := s.query(ctx, `SELECT conversation_id FROM conversations_by_pair WHERE pair_key = ?`, pairKey).Scan(&id); err != nil {
		return nil, notFound(err)
	}
	return s.GetConversation(ctx, id)
}

func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	var ids []string
	iter := s.query(ctx, `SELECT conversation_id FROM user_conversations WHERE user_id = ?`, userID).Iter()
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	convs := make([]model.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return convs, nil
	}
	iter = s.query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id IN ?`, ids).Iter()
	for {
		c, err := scanConversation(func(dest ...any) error {
			if !iter.Scan(dest...) {
				return gocql.ErrNotFound
			}
			return nil
		})
		if err != nil {
			break
		}
		convs = append(convs, *c)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time, preview string) error {
	applied, err := s.query(ctx, `
		UPDATE conversations SET last_message_time = ?, last_message_preview = ?
		WHERE id = ? IF EXISTS
	`, at, preview, id).ScanCAS()
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

// Messages

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (conversation_id, id, sender_id, content, is_deleted, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ID, m.SenderID, m.Content, m.IsDeleted, m.CreatedAt)
	b.Query(`INSERT INTO messages_by_id (id, conversation_id) VALUES (?, ?)`, m.ID, m.ConversationID)
	return s.session.ExecuteBatch(b)
}

func (s *Store) conversationOf(ctx context.Context, messageID int64) (string, error) {
	var conversationID string
	err := s.query(ctx, `SELECT conversation_id FROM messages_by_id WHERE id = ?`, messageID).Scan(&conversationID)
	return conversationID, notFound(err)
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	conversationID, err := s.conversationOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var m model.Message
	err = s.query(ctx, `
		SELECT conversation_id, id, sender_id, content, is_deleted, created_at
		FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID, id).Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.IsDeleted, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	reactions, err := s.reactions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	m.Reactions = reactions[id]
	if m.Reactions == nil {
		m.Reactions = []model.Reaction{}
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	iter := s.query(ctx, `
		SELECT conversation_id, id, sender_id, content, is_deleted, created_at
		FROM messages WHERE conversation_id = ?
	`, conversationID).Iter()

	msgs := make([]model.Message, 0)
	var m model.Message
	for iter.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.IsDeleted, &m.CreatedAt) {
		msgs = append(msgs, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	reactions, err := s.reactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Reactions = reactions[msgs[i].ID]
		if msgs[i].Reactions == nil {
			msgs[i].Reactions = []model.Reaction{}
		}
	}
	return msgs, nil
}

// reactions loads reactions for ids, each message's list ordered by the
// time the reaction was added.
func (s *Store) reactions(ctx context.Context, ids []int64) (map[int64][]model.Reaction, error) {
	out := make(map[int64][]model.Reaction)
	for start := 0; start < len(ids); start += reactionChunk {
		end := min(start+reactionChunk, len(ids))
		iter := s.query(ctx, `
			SELECT message_id, emoji, user_id, created_at
			FROM message_reactions WHERE message_id IN ?
		`, ids[start:end]).Iter()

		var (
			messageID int64
			r         model.Reaction
		)
		for iter.Scan(&messageID, &r.Emoji, &r.UserID, &r.CreatedAt) {
			out[messageID] = append(out[messageID], r)
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}
	for _, rs := range out {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].CreatedAt.Before(rs[j].CreatedAt) })
	}
	return out, nil
}

func (s *Store) MarkMessageDeleted(ctx context.Context, id int64) error {
	conversationID, err := s.conversationOf(ctx, id)
	if err != nil {
		return err
	}
	return s.query(ctx, `UPDATE messages SET is_deleted = true WHERE conversation_id = ? AND id = ?`,
		conversationID, id).Exec()
}

// ToggleReaction is a conditional delete followed, when nothing was there,
// by a conditional insert. Both are single-row lightweight transactions on
// the (message, emoji, user) key.
func (s *Store) ToggleReaction(ctx context.Context, messageID int64, emoji, userID string, at time.Time) (bool, error) {
	if _, err := s.conversationOf(ctx, messageID); err != nil {
		return false, err
	}

	remove := func() (bool, error) {
		return s.query(ctx, `
			DELETE FROM message_reactions WHERE message_id = ? AND emoji = ? AND user_id = ? IF EXISTS
		`, messageID, emoji, userID).MapScanCAS(map[string]any{})
	}
	insert := func() (bool, error) {
		return s.query(ctx, `
			INSERT INTO message_reactions (message_id, emoji, user_id, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS
		`, messageID, emoji, userID, at).MapScanCAS(map[string]any{})
	}
	return toggle(remove, insert)
}

// maxToggleAttempts bounds how often a toggle retries against concurrent
// toggles of the same reaction.
const maxToggleAttempts = 5

// toggle flips a row with two conditional writes and reports whether it is
// now present. When the insert loses to a concurrent toggle the row that
// won is removed again, so two toggles always cancel out.
func toggle(remove, insert func() (bool, error)) (bool, error) {
	for i := 0; i < maxToggleAttempts; i++ {
		removed, err := remove()
		if err != nil {
			return false, err
		}
		if removed {
			return false, nil
		}
		inserted, err := insert()
		if err != nil {
			return false, err
		}
		if inserted {
			return true, nil
		}
	}
	return false, store.ErrConflict
}

// Typing

func (s *Store) SetTyping(ctx context.Context, t model.TypingIndicator) error {
	return s.query(ctx, `
		INSERT INTO typing_indicators (conversation_id, user_id, is_typing, last_typed) VALUES (?, ?, ?, ?)
	`, t.ConversationID, t.UserID, t.IsTyping, t.LastTyped).Exec()
}

func (s *Store) ClearTyping(ctx context.Context, userID, conversationID string) error {
	_, err := s.query(ctx, `
		UPDATE typing_indicators SET is_typing = false WHERE conversation_id = ? AND user_id = ? IF EXISTS
	`, conversationID, userID).ScanCAS()
	return err
}

func (s *Store) ListTyping(ctx context.Context, conversationID string) ([]model.TypingIndicator, error) {
	iter := s.query(ctx, `
		SELECT user_id, conversation_id, is_typing, last_typed FROM typing_indicators WHERE conversation_id = ?
	`, conversationID).Iter()

	out := make([]model.TypingIndicator, 0)
	var t model.TypingIndicator
	for iter.Scan(&t.UserID, &t.ConversationID, &t.IsTyping, &t.LastTyped) {
		out = append(out, t)
	}
	return out, iter.Close()
}

// Unread
//
// The visible count is unread_count - read_offset. Counters only ever go
// up; marking read moves the offset to the current counter value.

func (s *Store) IncrementUnread(ctx context.Context, userID, conversationID string) error {
	return s.query(ctx, `
		UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND conversation_id = ?
	`, userID, conversationID).Exec()
}

func (s *Store) ResetUnread(ctx context.Context, userID, conversationID string, at time.Time) (bool, error) {
	var total int64
	err := s.query(ctx, `
		SELECT unread_count FROM conversation_counters WHERE user_id = ? AND conversation_id = ?
	`, userID, conversationID).Scan(&total)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = s.query(ctx, `
		INSERT INTO unread_state (user_id, conversation_id, read_offset, last_read) VALUES (?, ?, ?, ?)
	`, userID, conversationID, total, at).Exec()
	return err == nil, err
}

func (s *Store) ListUnread(ctx context.Context, userID string) ([]model.UnreadCounter, error) {
	type state struct {
		offset   int64
		lastRead time.Time
	}
	states := make(map[string]state)
	iter := s.query(ctx, `SELECT conversation_id, read_offset, last_read FROM unread_state WHERE user_id = ?`, userID).Iter()
	var (
		conversationID string
		st             state
	)
	for iter.Scan(&conversationID, &st.offset, &st.lastRead) {
		states[conversationID] = st
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([]model.UnreadCounter, 0)
	iter = s.query(ctx, `SELECT conversation_id, unread_count FROM conversation_counters WHERE user_id = ?`, userID).Iter()
	var total int64
	for iter.Scan(&conversationID, &total) {
		st := states[conversationID]
		out = append(out, model.UnreadCounter{
			UserID:         userID,
			ConversationID: conversationID,
			Count:          max(total-st.offset, 0),
			LastRead:       st.lastRead,
		})
	}
	return out, iter.Close()
}
