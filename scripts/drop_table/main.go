package main

import (
	"flag"

	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/logging"
)

func main() {
	table := flag.String("table", "messages", "table to drop from the chat keyspace")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel, "drop_table")

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	logger.Info().Str("table", *table).Msg("dropping table")
	if err := db.DropTable(session, *table); err != nil {
		logger.Fatal().Err(err).Msg("failed to drop table")
	}
	logger.Info().Str("table", *table).Msg("table dropped")
}
