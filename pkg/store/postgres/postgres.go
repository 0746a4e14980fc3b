// Package postgres is the PostgreSQL Store. Atomic maps onto a pgx
// transaction and the uniqueness rules live in the schema: a unique index
// on conversations.pair_key and a (message_id, emoji, user_id) primary key
// on reactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every query below
// runs unchanged inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
	log  zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects a pool to databaseURL and checks it with a ping.
func New(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{pool: pool, db: pool, log: log}, nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn().Err(err).Msg("rollback failed")
		}
	}()

	if err := fn(ctx, &Store{pool: s.pool, db: tx, inTx: true, log: s.log}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// Users

const userColumns = `id, external_id, name, email, avatar_url, is_online, last_seen`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.AvatarURL, &u.IsOnline, &u.LastSeen)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) queryUsers(ctx context.Context, sql string, args ...any) ([]model.User, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) UpsertUser(ctx context.Context, p model.Profile, now time.Time) (*model.User, error) {
	return scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (id, external_id, name, email, avatar_url, is_online, last_seen)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			avatar_url = EXCLUDED.avatar_url,
			is_online = TRUE,
			last_seen = EXCLUDED.last_seen
		RETURNING `+userColumns,
		uuid.Must(uuid.NewV7()).String(), p.ExternalID, p.Name, p.Email, p.AvatarURL, now,
	))
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID))
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	found, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
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
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
}

func (s *Store) SearchUsers(ctx context.Context, term string) ([]model.User, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY created_at, id
	`, escapeLike(term))
}

// escapeLike makes term match literally inside a LIKE pattern.
func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func (s *Store) SetOnline(ctx context.Context, id string, online bool, now time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`, id, online, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Conversations

const conversationColumns = `id, is_group, group_name, participants, COALESCE(pair_key, ''),
	last_message_time, last_message_preview, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.IsGroup, &c.GroupName, &c.Participants, &c.PairKey,
		&c.LastMessageTime, &c.LastMessagePreview, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	var pairKey *string
	if c.PairKey != "" {
		pairKey = &c.PairKey
	}

	// DO NOTHING keeps a surrounding transaction usable after a lost race
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, is_group, group_name, participants, pair_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id
	`, c.ID, c.IsGroup, c.GroupName, c.Participants, pairKey, c.CreatedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return scanConversation(s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
}

func (s *Store) FindConversationByPair(ctx context.Context, pairKey string) (*model.Conversation, error) {
	return scanConversation(s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1`, pairKey))
}

func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participants @> ARRAY[$1]::TEXT[]
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time, preview string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET last_message_time = $2, last_message_preview = $3
		WHERE id = $1
	`, id, at, preview)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Messages

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ConversationID, m.SenderID, m.Content, m.IsDeleted, m.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var m model.Message
	err := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, content, is_deleted, created_at
		FROM messages WHERE id = $1
	`, id).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsDeleted, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	reactions, err := s.reactions(ctx, `WHERE r.message_id = $1`, id)
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
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, sender_id, content, is_deleted, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsDeleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reactions, err := s.reactions(ctx, `JOIN messages m ON m.id = r.message_id WHERE m.conversation_id = $1`, conversationID)
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

// reactions loads reaction rows in insertion order, grouped by message.
func (s *Store) reactions(ctx context.Context, where string, arg any) (map[int64][]model.Reaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.message_id, r.emoji, r.user_id, r.created_at
		FROM message_reactions r `+where+`
		ORDER BY r.seq
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]model.Reaction)
	for rows.Next() {
		var (
			messageID int64
			r         model.Reaction
		)
		if err := rows.Scan(&messageID, &r.Emoji, &r.UserID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out[messageID] = append(out[messageID], r)
	}
	return out, rows.Err()
}

func (s *Store) MarkMessageDeleted(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ToggleReaction deletes the fact row when present and inserts it otherwise.
// The message row is locked first, so toggles on one message queue behind
// each other instead of racing on the same key.
func (s *Store) ToggleReaction(ctx context.Context, messageID int64, emoji, userID string, at time.Time) (bool, error) {
	var added bool
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		db := tx.(*Store).db

		var locked int64
		err := db.QueryRow(ctx, `SELECT id FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&locked)
		if err != nil {
			return notFound(err)
		}

		tag, err := db.Exec(ctx, `
			DELETE FROM message_reactions
			WHERE message_id = $1 AND emoji = $2 AND user_id = $3
		`, messageID, emoji, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		_, err = db.Exec(ctx, `
			INSERT INTO message_reactions (message_id, emoji, user_id, created_at)
			VALUES ($1, $2, $3, $4)
		`, messageID, emoji, userID, at)
		if err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

// Typing

func (s *Store) SetTyping(ctx context.Context, t model.TypingIndicator) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO typing_indicators (user_id, conversation_id, is_typing, last_typed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			is_typing = EXCLUDED.is_typing,
			last_typed = EXCLUDED.last_typed
	`, t.UserID, t.ConversationID, t.IsTyping, t.LastTyped)
	return err
}

func (s *Store) ClearTyping(ctx context.Context, userID, conversationID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE typing_indicators SET is_typing = FALSE
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID)
	return err
}

func (s *Store) ListTyping(ctx context.Context, conversationID string) ([]model.TypingIndicator, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, conversation_id, is_typing, last_typed
		FROM typing_indicators WHERE conversation_id = $1
		ORDER BY last_typed
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TypingIndicator, 0)
	for rows.Next() {
		var t model.TypingIndicator
		if err := rows.Scan(&t.UserID, &t.ConversationID, &t.IsTyping, &t.LastTyped); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Unread

func (s *Store) IncrementUnread(ctx context.Context, userID, conversationID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO unread_counters (user_id, conversation_id, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			count = unread_counters.count + 1
	`, userID, conversationID)
	return err
}

func (s *Store) ResetUnread(ctx context.Context, userID, conversationID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE unread_counters SET count = 0, last_read = $3
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListUnread(ctx context.Context, userID string) ([]model.UnreadCounter, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, conversation_id, count, last_read
		FROM unread_counters WHERE user_id = $1
		ORDER BY conversation_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.UnreadCounter, 0)
	for rows.Next() {
		var (
			c        model.UnreadCounter
			lastRead *time.Time
		)
		if err := rows.Scan(&c.UserID, &c.ConversationID, &c.Count, &lastRead); err != nil {
			return nil, err
		}
		if lastRead != nil {
			c.LastRead = *lastRead
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
