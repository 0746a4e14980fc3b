package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(_ context.Context, events ...model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recorder) last(t *testing.T) model.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type worker struct {
	d   *Dispatcher
	svc *chat.Service
	pub *recorder
}

func newWorker(t *testing.T) *worker {
	t.Helper()
	pub := &recorder{}
	svc := chat.New(memory.New(), chat.WithPublisher(pub))
	return &worker{d: NewDispatcher(svc, pub, zerolog.Nop()), svc: svc, pub: pub}
}

func (w *worker) user(t *testing.T, name string) string {
	t.Helper()
	u, err := w.svc.SyncUser(context.Background(), model.Profile{ExternalID: "ext-" + name, Name: name})
	require.NoError(t, err)
	return u.ID
}

func (w *worker) handle(t *testing.T, cmd model.Command) {
	t.Helper()
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, w.d.Handle(context.Background(), kafka.Message{Key: []byte(cmd.Key()), Value: raw}))
}

func errorPayload(t *testing.T, evt model.Event) model.ErrorPayload {
	t.Helper()
	require.Equal(t, model.EventError, evt.Type)
	var p model.ErrorPayload
	require.NoError(t, evt.Decode(&p))
	return p
}

func TestSendCommand(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()
	alice, bob := w.user(t, "alice"), w.user(t, "bob")
	conv, err := w.svc.GetOrCreateConversation(ctx, []string{alice, bob}, false, "")
	require.NoError(t, err)

	w.handle(t, model.Command{Type: model.CommandSend, UserID: alice, ConversationID: conv, Content: "hi"})

	evt := w.pub.last(t)
	assert.Equal(t, model.EventMessageSent, evt.Type)
	assert.ElementsMatch(t, []string{alice, bob}, evt.Recipients)

	msgs, err := w.svc.ListMessages(ctx, conv)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestSendFromOutsiderIsRejected(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()
	alice, bob, mallory := w.user(t, "alice"), w.user(t, "bob"), w.user(t, "mallory")
	conv, err := w.svc.GetOrCreateConversation(ctx, []string{alice, bob}, false, "")
	require.NoError(t, err)

	w.handle(t, model.Command{Type: model.CommandSend, UserID: mallory, ConversationID: conv, Content: "spam", ClientRef: "r1"})

	evt := w.pub.last(t)
	assert.Equal(t, []string{mallory}, evt.Recipients)
	p := errorPayload(t, evt)
	assert.Equal(t, "r1", p.ClientRef)
	assert.Equal(t, "spam", p.Content)
	assert.Equal(t, "not allowed", p.Reason)

	msgs, err := w.svc.ListMessages(ctx, conv)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendTooLongReturnsContent(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()
	alice, bob := w.user(t, "alice"), w.user(t, "bob")
	conv, err := w.svc.GetOrCreateConversation(ctx, []string{alice, bob}, false, "")
	require.NoError(t, err)

	long := strings.Repeat("x", model.MaxContentLength+1)
	w.handle(t, model.Command{Type: model.CommandSend, UserID: alice, ConversationID: conv, Content: long})

	p := errorPayload(t, w.pub.last(t))
	assert.Equal(t, long, p.Content)
	assert.Contains(t, p.Reason, "validation")
}

func TestSendToMissingConversation(t *testing.T) {
	w := newWorker(t)
	alice := w.user(t, "alice")

	w.handle(t, model.Command{Type: model.CommandSend, UserID: alice, ConversationID: "nope", Content: "hello?"})

	p := errorPayload(t, w.pub.last(t))
	assert.Contains(t, p.Reason, "not found")
}

func TestDeleteCommandChecksSender(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()
	alice, bob := w.user(t, "alice"), w.user(t, "bob")
	conv, err := w.svc.GetOrCreateConversation(ctx, []string{alice, bob}, false, "")
	require.NoError(t, err)
	id, err := w.svc.SendMessage(ctx, conv, alice, "mine")
	require.NoError(t, err)

	w.handle(t, model.Command{Type: model.CommandDelete, UserID: bob, MessageID: id})
	errorPayload(t, w.pub.last(t))

	w.handle(t, model.Command{Type: model.CommandDelete, UserID: alice, MessageID: id})
	assert.Equal(t, model.EventMessageDeleted, w.pub.last(t).Type)

	msg, err := w.svc.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.IsDeleted)
}

func TestReactionToMissingMessageIsSilent(t *testing.T) {
	w := newWorker(t)
	alice := w.user(t, "alice")
	before := w.pub.count()

	w.handle(t, model.Command{Type: model.CommandReact, UserID: alice, MessageID: 99, Emoji: "🔥"})
	assert.Equal(t, before, w.pub.count())
}

func TestReactionCommand(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()
	alice, bob := w.user(t, "alice"), w.user(t, "bob")
	conv, err := w.svc.GetOrCreateConversation(ctx, []string{alice, bob}, false, "")
	require.NoError(t, err)
	id, err := w.svc.SendMessage(ctx, conv, alice, "hi")
	require.NoError(t, err)

	w.handle(t, model.Command{Type: model.CommandReact, UserID: bob, MessageID: id, Emoji: "🔥"})

	evt := w.pub.last(t)
	require.Equal(t, model.EventReactionToggled, evt.Type)
	var p model.ReactionPayload
	require.NoError(t, evt.Decode(&p))
	assert.True(t, p.Added)
	assert.Equal(t, id, p.MessageID)
}

func TestTypingAndReadCommands(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()
	alice, bob := w.user(t, "alice"), w.user(t, "bob")
	conv, err := w.svc.GetOrCreateConversation(ctx, []string{alice, bob}, false, "")
	require.NoError(t, err)

	w.handle(t, model.Command{Type: model.CommandTyping, UserID: alice, ConversationID: conv, IsTyping: true})
	assert.Equal(t, model.EventTyping, w.pub.last(t).Type)

	typing, err := w.svc.ListTyping(ctx, conv, bob)
	require.NoError(t, err)
	require.Len(t, typing, 1)
	assert.Equal(t, alice, typing[0].ID)

	_, err = w.svc.SendMessage(ctx, conv, alice, "hi")
	require.NoError(t, err)
	w.handle(t, model.Command{Type: model.CommandRead, UserID: bob, ConversationID: conv})

	counters, err := w.svc.UnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, chat.TotalUnread(counters))
}

func TestPresenceCommand(t *testing.T) {
	w := newWorker(t)
	alice := w.user(t, "alice")

	w.handle(t, model.Command{Type: model.CommandPresence, UserID: alice, Online: false})
	assert.Equal(t, model.EventPresence, w.pub.last(t).Type)

	u, err := w.svc.GetUser(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	before := w.pub.count()
	w.handle(t, model.Command{Type: model.CommandPresence, UserID: "ghost", Online: true})
	assert.Equal(t, before, w.pub.count())
}

func TestMalformedRecords(t *testing.T) {
	w := newWorker(t)
	ctx := context.Background()

	assert.Error(t, w.d.Handle(ctx, kafka.Message{Value: []byte("{")}))
	assert.Error(t, w.d.Handle(ctx, kafka.Message{Value: []byte(`{"type":"message"}`)}))
}

func TestUnknownCommandType(t *testing.T) {
	w := newWorker(t)
	alice := w.user(t, "alice")

	w.handle(t, model.Command{Type: "shout", UserID: alice})
	errorPayload(t, w.pub.last(t))
}
