package backend

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/store/memory"
)

func TestOpenMemoryStoreWithStoreTyping(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{StoreBackend: "memory", TypingBackend: "store"}

	st, err := OpenStore(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)

	typing, closeTyping, err := OpenTyping(ctx, cfg, st, zerolog.Nop())
	require.NoError(t, err)
	assert.Same(t, st, typing)
	assert.NoError(t, closeTyping())
}

func TestOpenRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()

	_, err := OpenStore(ctx, &config.Config{StoreBackend: "sqlite"}, zerolog.Nop())
	assert.Error(t, err)

	_, _, err = OpenTyping(ctx, &config.Config{TypingBackend: "memcached"}, memory.New(), zerolog.Nop())
	assert.Error(t, err)

	_, _, err = OpenPublisher(&config.Config{EventBus: "nats"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenPublisher(t *testing.T) {
	pub, closePub, err := OpenPublisher(&config.Config{EventBus: "none"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.NoError(t, closePub())

	cfg := &config.Config{EventBus: "kafka", KafkaBrokers: []string{"localhost:19092"}, KafkaEventTopic: "chat-events"}
	pub, closePub, err = OpenPublisher(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &events.Producer{}, pub)
	assert.NoError(t, closePub())
}
