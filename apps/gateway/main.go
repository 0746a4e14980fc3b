package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/presence"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel, "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns, err := presence.NewRedisStore(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connection failed")
	}
	defer conns.Close()

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaCommandTopic)
	defer producer.Close()

	hub := NewHub(producer, conns, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	// Every gateway reads every event; the hub keeps only those for its own
	// sockets.
	consumer := events.NewFanoutConsumer(cfg.KafkaBrokers, cfg.KafkaEventTopic, strconv.FormatInt(cfg.NodeID, 10), logger)
	defer consumer.Close()
	go consumer.Run(ctx, hub.HandleEvent)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ServeWs(hub, auth.NewIssuer(cfg.JWTSecret), logger))

	srv := &http.Server{
		Addr:              ":" + cfg.GatewayPort,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.GatewayPort).
			Int64("node_id", cfg.NodeID).
			Msg("starting gateway")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	<-hubDone

	logger.Info().Msg("gateway stopped")
}
