package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"bizdash/internal/api"
	"bizdash/internal/api/handlers"
	"bizdash/internal/api/middleware"
	"bizdash/internal/engine/notifications"
	"bizdash/internal/engine/realtime"
	"bizdash/internal/engine/webhooks"
	"bizdash/internal/pkg/logger"
	"bizdash/internal/platform/audit"
	"bizdash/internal/platform/auth"
	"bizdash/internal/platform/config"
	"bizdash/internal/platform/database"
	"bizdash/internal/platform/repositories"
)

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
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Repositories
	tenantRepo := repositories.NewTenantRepository(db)
	userRepo := repositories.NewUserRepository(db)
	settingsRepo := repositories.NewWebhookSettingsRepository(db, cfg.Webhooks.RetryAttempts, cfg.Webhooks.TimeoutMS)
	deliveryRepo := repositories.NewDeliveryRepository(db)
	auditLog := audit.NewLogger(db)

	// Realtime fan-out; with redis configured every instance shares rooms
	hub := realtime.NewHub(realtime.HubOptions{
		SendBuffer:      cfg.Realtime.SendBuffer,
		BroadcastBuffer: cfg.Realtime.BroadcastBuffer,
		PingPeriod:      cfg.Realtime.PingPeriod,
	})
	var publisher realtime.Publisher = hub
	var relay *realtime.RedisRelay
	if cfg.Redis.Addr != "" {
		client := realtime.NewRedisClient(cfg.Redis)
		defer client.Close()
		relay = realtime.NewRedisRelay(client, cfg.Redis.Channel, hub)
		publisher = relay
	}

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	dispatcher := webhooks.NewDispatcher(settingsRepo, deliveryRepo, webhooks.DispatcherOptions{
		RetryInterval: cfg.Webhooks.RetryInterval,
	})
	notificationSvc := notifications.NewService(notifications.NewRepository(db), publisher, dispatcher)
	ingestor := webhooks.NewIngestor(webhooks.IngestorDeps{
		Tenants:          tenantRepo,
		Settings:         settingsRepo,
		Orders:           repositories.NewOrderRepository(db),
		Payments:         repositories.NewPaymentRepository(db),
		Notifications:    notificationSvc,
		Audit:            auditLog,
		RequireSignature: cfg.Webhooks.RequireSignature,
	})

	webhookLimiter := middleware.NewRateLimiter("webhook", cfg.RateLimit.WebhookPerMinute)
	apiLimiter := middleware.NewRateLimiter("api", cfg.RateLimit.APIPerMinute)

	deps := &api.Dependencies{
		AuthHandler:         handlers.NewAuthHandler(userRepo, tenantRepo, tokenSvc),
		WebhookHandler:      handlers.NewWebhookHandler(ingestor, cfg.Webhooks.MaxBodyBytes),
		SettingsHandler:     handlers.NewWebhookSettingsHandler(settingsRepo, auditLog, cfg.Server.PublicURL),
		NotificationHandler: handlers.NewNotificationHandler(notificationSvc),
		RealtimeHandler:     handlers.NewRealtimeHandler(hub),
		AuditHandler:        handlers.NewAuditHandler(auditLog),
		HealthHandler:       handlers.NewHealthHandler(db, hub),
		MetricsHandler:      handlers.NewMetricsHandler(),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokenSvc),
		TenantMiddleware:    middleware.NewTenantMiddleware(tenantRepo),
		WebhookLimiter:      webhookLimiter,
		APILimiter:          apiLimiter,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewHandler(deps, cfg.CORS),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sup := suture.New("bizdash", suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          cfg.Server.ShutdownTimeout,
	})
	sup.Add(hub)
	if relay != nil {
		sup.Add(relay)
	}
	sup.Add(webhookLimiter)
	sup.Add(apiLimiter)
	sup.Add(newHTTPService(srv, cfg.Server.ShutdownTimeout))

	log.Info().Str("addr", srv.Addr).Bool("redis_relay", relay != nil).Msg("Starting bizdash server")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Supervisor stopped")
	}

	// let in-flight callback deliveries finish storing their outcome
	dispatcher.Wait()
	log.Info().Msg("Server stopped")
}

func logEvent(e suture.Event) {
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
		log.Error().Fields(e.Map()).Msg(e.String())
	case suture.EventTypeBackoff:
		log.Warn().Fields(e.Map()).Msg(e.String())
	default:
		log.Info().Fields(e.Map()).Msg(e.String())
	}
}
