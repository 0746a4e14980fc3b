package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/backend"
	"github.com/mahaj/dupahar-chat/pkg/chat"
	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
	"github.com/mahaj/dupahar-chat/pkg/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel, "api")

	ctx := context.Background()

	if cfg.StoreBackend == "postgres" {
		logger.Info().Msg("running database migrations...")
		if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")
	}

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

	pub, closePub, err := backend.OpenPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open event bus")
	}
	defer closePub()

	node, err := snowflake.NewNode(cfg.APINodeID)
	if err != nil {
		logger.Fatal().Err(err).Int64("node_id", cfg.APINodeID).Msg("invalid node id")
	}

	svc := chat.New(st,
		chat.WithTyping(typing),
		chat.WithPublisher(pub),
		chat.WithNode(node),
		chat.WithLogger(logger),
	)
	issuer := auth.NewIssuer(cfg.JWTSecret)
	health := func(r *http.Request) error { return st.Ping(r.Context()) }

	handler := NewHandler(svc, issuer, health, logger)
	if cfg.SyncSecret != "" {
		handler.RequireSyncSecret(cfg.SyncSecret)
	} else {
		logger.Warn().Msg("SYNC_SECRET not set; /auth/sync is open")
	}
	router := NewRouter(logger, handler, issuer)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreBackend).
			Msg("starting API server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
