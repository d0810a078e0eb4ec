package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"bizdash/internal/pkg/logger"
	"bizdash/internal/platform/config"
	"bizdash/internal/platform/database"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	status := flag.Bool("status", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer db.Close()

	ctx := context.Background()
	current, err := database.Version(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read schema version")
	}

	if *status {
		fmt.Printf("schema version %d (latest %d)\n", current, database.Latest())
		return
	}
	if current >= database.Latest() {
		fmt.Printf("Schema is up to date at version %d\n", current)
		return
	}

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	fmt.Printf("Migrated schema from version %d to %d\n", current, database.Latest())
}
