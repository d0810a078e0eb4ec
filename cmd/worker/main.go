package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"bizdash/internal/engine/webhooks"
	"bizdash/internal/pkg/logger"
	"bizdash/internal/platform/config"
	"bizdash/internal/platform/database"
	"bizdash/internal/platform/repositories"
	"bizdash/internal/workers"
)

const retryBatch = 100

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	settings := repositories.NewWebhookSettingsRepository(db, cfg.Webhooks.RetryAttempts, cfg.Webhooks.TimeoutMS)
	deliveries := repositories.NewDeliveryRepository(db)
	dispatcher := webhooks.NewDispatcher(settings, deliveries, webhooks.DispatcherOptions{
		RetryInterval: cfg.Webhooks.RetryInterval,
	})

	sup := suture.New("bizdash-worker", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Fields(e.Map()).Msg(e.String())
		},
		Timeout: 30 * time.Second,
	})
	sup.Add(&workers.Job{
		Name:     "delivery-retry",
		Interval: time.Minute,
		Run:      workers.RetryDeliveries(dispatcher, retryBatch),
	})
	sup.Add(&workers.Job{
		Name:     "delivery-prune",
		Interval: time.Hour,
		Run:      workers.PruneDeliveries(deliveries, cfg.Webhooks.DeliveryRetention, time.Now),
	})

	log.Info().Dur("retention", cfg.Webhooks.DeliveryRetention).Msg("Starting bizdash workers")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Supervisor stopped")
	}
	log.Info().Msg("Workers stopped")
}
