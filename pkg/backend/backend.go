// Package backend opens the store and typing backends named by config.
package backend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/presence"
	"github.com/mahaj/dupahar-chat/pkg/store"
	"github.com/mahaj/dupahar-chat/pkg/store/memory"
	"github.com/mahaj/dupahar-chat/pkg/store/postgres"
	"github.com/mahaj/dupahar-chat/pkg/store/scylla"
)

// OpenStore connects the entity store selected by cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return memory.New(), nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		log.Info().Msg("connected to PostgreSQL")
		return s, nil

	case "scylla":
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log)
		if err != nil {
			return nil, fmt.Errorf("scylla connection failed: %w", err)
		}
		return scylla.New(session, log), nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

// OpenTyping returns where typing indicators live. With the store backend
// the returned close func is a no-op.
func OpenTyping(ctx context.Context, cfg *config.Config, st store.Store, log zerolog.Logger) (store.Typing, func() error, error) {
	switch cfg.TypingBackend {
	case "store", "":
		return st, func() error { return nil }, nil
	case "redis":
		r, err := presence.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("typing indicators in Redis")
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown TYPING_BACKEND %q", cfg.TypingBackend)
}

// OpenPublisher returns the event sink named by cfg.EventBus. A nil
// publisher means events are dropped.
func OpenPublisher(cfg *config.Config, log zerolog.Logger) (chat.Publisher, func() error, error) {
	switch cfg.EventBus {
	case "none", "":
		return nil, func() error { return nil }, nil
	case "kafka":
		p := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaEventTopic).Msg("publishing events to Kafka")
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown EVENT_BUS %q", cfg.EventBus)
}
