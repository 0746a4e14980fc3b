// Command migrate creates or removes the schema of the configured store.
package main

import (
	"flag"

	"github.com/rs/zerolog"

	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/store/postgres"
)

func main() {
	down := flag.Bool("down", false, "drop the schema instead of creating it")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.IsDevelopment(), cfg.LogLevel, "migrate")

	var err error
	switch cfg.StoreBackend {
	case "postgres":
		if *down {
			err = postgres.MigrateDown(cfg.DatabaseURL)
		} else {
			err = postgres.MigrateUp(cfg.DatabaseURL)
		}
	case "scylla":
		err = scylla(cfg, *down, logger)
	default:
		logger.Info().Str("store", cfg.StoreBackend).Msg("nothing to migrate")
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.StoreBackend).Bool("down", *down).Msg("migration failed")
	}
	logger.Info().Str("store", cfg.StoreBackend).Bool("down", *down).Msg("migration completed")
}

func scylla(cfg *config.Config, down bool, log zerolog.Logger) error {
	if !down {
		if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log); err != nil {
			return err
		}
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, log)
	if err != nil {
		return err
	}
	defer session.Close()

	if !down {
		return db.EnsureSchema(session, log)
	}
	for _, t := range db.Tables {
		if err := db.DropTable(session, t.Name); err != nil {
			return err
		}
		log.Info().Str("table", t.Name).Msg("table dropped")
	}
	return nil
}
