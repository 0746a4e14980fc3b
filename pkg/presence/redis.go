// Package presence keeps short-lived realtime state in Redis: typing
// indicators shared by every API and worker node, and per-user connection
// counts across gateways.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// typingKeyTTL only bounds memory for idle conversations. Liveness is still
// decided at read time against model.TypingWindow.
const typingKeyTTL = time.Hour

// connectionsTTL lets a crashed gateway's counts lapse. Live gateways call
// Refresh well within it.
const connectionsTTL = 2 * time.Minute

// clearTyping flips is_typing off for an existing field and leaves missing
// fields alone.
var clearTyping = redis.NewScript(`
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if not raw then
	return 0
end
local row = cjson.decode(raw)
row["is_typing"] = false
redis.call("HSET", KEYS[1], ARGV[1], cjson.encode(row))
return 1
`)

type RedisStore struct {
	client *redis.Client
}

var _ store.Typing = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// typingKey returns the hash holding a conversation's indicators, one field
// per user.
func typingKey(conversationID string) string {
	return fmt.Sprintf("typing:%s", conversationID)
}

// connectionsKey returns the counter of a user's open gateway connections.
func connectionsKey(userID string) string {
	return fmt.Sprintf("presence:%s:connections", userID)
}

type typingField struct {
	IsTyping  bool  `json:"is_typing"`
	LastTyped int64 `json:"last_typed"` // unix ms
}

func encodeTyping(t model.TypingIndicator) ([]byte, error) {
	return json.Marshal(typingField{IsTyping: t.IsTyping, LastTyped: t.LastTyped.UnixMilli()})
}

func decodeTyping(conversationID, userID, raw string) (model.TypingIndicator, error) {
	var f typingField
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return model.TypingIndicator{}, err
	}
	return model.TypingIndicator{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       f.IsTyping,
		LastTyped:      time.UnixMilli(f.LastTyped).UTC(),
	}, nil
}

func (s *RedisStore) SetTyping(ctx context.Context, t model.TypingIndicator) error {
	raw, err := encodeTyping(t)
	if err != nil {
		return err
	}
	key := typingKey(t.ConversationID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, t.UserID, raw)
	pipe.Expire(ctx, key, typingKeyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ClearTyping(ctx context.Context, userID, conversationID string) error {
	return clearTyping.Run(ctx, s.client, []string{typingKey(conversationID)}, userID).Err()
}

func (s *RedisStore) ListTyping(ctx context.Context, conversationID string) ([]model.TypingIndicator, error) {
	fields, err := s.client.HGetAll(ctx, typingKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.TypingIndicator, 0, len(fields))
	for userID, raw := range fields {
		t, err := decodeTyping(conversationID, userID, raw)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastTyped.Before(out[j].LastTyped) })
	return out, nil
}

// Connect counts a new gateway connection for userID and reports whether it
// is the user's first one anywhere.
func (s *RedisStore) Connect(ctx context.Context, userID string) (bool, error) {
	key := connectionsKey(userID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, connectionsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() == 1, nil
}

// Disconnect drops one connection for userID and reports whether it was
// the last one.
func (s *RedisStore) Disconnect(ctx context.Context, userID string) (bool, error) {
	key := connectionsKey(userID)
	n, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n <= 0 {
		s.client.Del(ctx, key)
		return true, nil
	}
	return false, nil
}

// Refresh extends the counters of users connected to the calling gateway.
func (s *RedisStore) Refresh(ctx context.Context, userIDs []string) error {
	pipe := s.client.Pipeline()
	for _, id := range userIDs {
		pipe.Expire(ctx, connectionsKey(id), connectionsTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
