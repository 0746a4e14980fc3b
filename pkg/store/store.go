package store

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/model"
)

var (
	// ErrNotFound is returned when a keyed lookup or update finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert would break a uniqueness
	// constraint, e.g. a second 1:1 conversation for the same pair.
	ErrConflict = errors.New("store: conflict")
)

// Store is the entity store behind the messaging core. Memory, PostgreSQL and
// ScyllaDB backends implement it.
type Store interface {
	Users
	Conversations
	Messages
	Typing
	Unread

	// Atomic runs fn as one unit of work. The Store handed to fn is bound to
	// that unit; backends with multi-key transactions commit or discard all
	// of fn's writes together.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}

type Users interface {
	// UpsertUser creates or refreshes the user keyed by p.ExternalID, marking
	// them online with LastSeen = now.
	UpsertUser(ctx context.Context, p model.Profile, now time.Time) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	// GetUsers resolves ids in order, skipping ids with no user.
	GetUsers(ctx context.Context, ids []string) ([]model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	// SearchUsers matches term as a case-insensitive substring of the name.
	SearchUsers(ctx context.Context, term string) ([]model.User, error)
	SetOnline(ctx context.Context, id string, online bool, now time.Time) error
}

type Conversations interface {
	// CreateConversation inserts c. When c.PairKey is set and already taken
	// it returns ErrConflict and writes nothing.
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindConversationByPair(ctx context.Context, pairKey string) (*model.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	// TouchConversation records the latest message time and preview.
	TouchConversation(ctx context.Context, id string, at time.Time, preview string) error
}

type Messages interface {
	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	// ListMessages returns a conversation's messages in ascending creation
	// order with reactions attached.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkMessageDeleted(ctx context.Context, id int64) error
	// ToggleReaction removes the (message, emoji, user) reaction when present
	// and adds it otherwise, as a single conditional write. It reports whether
	// the reaction is present afterwards.
	ToggleReaction(ctx context.Context, messageID int64, emoji, userID string, at time.Time) (bool, error)
}

type Typing interface {
	SetTyping(ctx context.Context, t model.TypingIndicator) error
	// ClearTyping sets IsTyping=false on an existing row and is a no-op
	// when there is none.
	ClearTyping(ctx context.Context, userID, conversationID string) error
	ListTyping(ctx context.Context, conversationID string) ([]model.TypingIndicator, error)
}

type Unread interface {
	// IncrementUnread adds one to the counter, creating it with count=1 and
	// a zero LastRead when missing.
	IncrementUnread(ctx context.Context, userID, conversationID string) error
	// ResetUnread zeroes an existing counter and stamps LastRead. It reports
	// false, without creating anything, when the counter does not exist.
	ResetUnread(ctx context.Context, userID, conversationID string, at time.Time) (bool, error)
	ListUnread(ctx context.Context, userID string) ([]model.UnreadCounter, error)
}
