package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/mahaj/dupahar-chat/pkg/backend"
	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel, "messaging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := backend.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	typing, closeTyping, err := backend.OpenTyping(ctx, cfg, st, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open typing backend")
	}
	defer closeTyping()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Int64("node_id", cfg.NodeID).Msg("invalid node id")
	}

	// Workers always publish: the gateways only learn of changes through
	// the event topic.
	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
	defer producer.Close()

	svc := chat.New(st,
		chat.WithTyping(typing),
		chat.WithPublisher(producer),
		chat.WithNode(node),
		chat.WithLogger(logger),
	)
	dispatcher := NewDispatcher(svc, producer, logger)

	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaCommandTopic, cfg.KafkaGroupID, logger)
	defer consumer.Close()

	logger.Info().
		Str("topic", cfg.KafkaCommandTopic).
		Str("group", cfg.KafkaGroupID).
		Str("store", cfg.StoreBackend).
		Msg("starting command consumer")

	if err := consumer.Run(ctx, dispatcher.Handle); err != nil {
		logger.Error().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("messaging worker stopped")
}
