// Package chat is the messaging core: conversations, messages, reactions,
// typing indicators and unread counters on top of a store.Store.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/metrics"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

// Publisher receives events after the state change they describe has
// committed.
type Publisher interface {
	Publish(ctx context.Context, events ...model.Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...model.Event) error { return nil }

type Service struct {
	store  store.Store
	typing store.Typing
	ids    *snowflake.Node
	pub    Publisher
	log    zerolog.Logger
	now    func() time.Time
	locks  *keyedMutex

	// typingInStore is set when typing rows share the entity store, so a
	// send can clear them inside its own unit of work.
	typingInStore bool
}

type Option func(*Service)

// WithPublisher sets where events go. The default, and a nil p, drops them.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.pub = p
		}
	}
}

// WithTyping moves typing indicators out of the entity store, e.g. to Redis.
func WithTyping(t store.Typing) Option {
	return func(s *Service) { s.typing = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNode sets the snowflake node used for message ids.
func WithNode(n *snowflake.Node) Option {
	return func(s *Service) { s.ids = n }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		typing: st,
		pub:    nopPublisher{},
		log:    zerolog.Nop(),
		now:    time.Now,
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids, _ = snowflake.NewNode(0)
	}
	s.typingInStore = s.typing == store.Typing(st)
	return s
}

func (s *Service) emit(ctx context.Context, typ model.EventType, conversationID, userID string, recipients []string, payload any) {
	evt, err := model.NewEvent(typ, conversationID, userID, recipients, payload, s.now())
	if err != nil {
		s.log.Error().Err(err).Str("event", string(typ)).Msg("failed to encode event")
		return
	}
	if err := s.pub.Publish(ctx, evt); err != nil {
		s.log.Error().Err(err).
			Str("event", string(evt.Type)).
			Str("conversation_id", evt.ConversationID).
			Msg("failed to publish event")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
}

// keyedMutex serializes work per key. Scylla has no multi-key transaction,
// so writes to one conversation are funneled through here.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
