package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/restobill/renewals/internal/api"
	"github.com/restobill/renewals/internal/config"
	"github.com/restobill/renewals/internal/engine"
	"github.com/restobill/renewals/internal/entitlement"
	"github.com/restobill/renewals/internal/gateway"
	"github.com/restobill/renewals/internal/metrics"
	"github.com/restobill/renewals/internal/notify"
	"github.com/restobill/renewals/internal/scheduler"
	"github.com/restobill/renewals/internal/store"
	"github.com/restobill/renewals/internal/websocket"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	gw := newGateway(cfg, redisStore, logger)

	m := metrics.New()
	catalog := cfg.PlanCatalog()

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	var reminders api.ReminderQueue
	if cfg.ReminderQueueEnabled {
		queue := notify.NewRedisQueueNotifier(redisStore.Client(), logger)
		notifier = queue
		reminders = queue
	}

	eng := engine.New(engine.Deps{
		Store:       pgStore,
		Gateway:     gw,
		Enforcer:    entitlement.NewEnforcer(pgStore, pgStore, catalog, logger),
		Pending:     redisStore,
		Notifier:    notifier,
		Events:      hub,
		Metrics:     m,
		Catalog:     catalog,
		Policy:      cfg.RenewalPolicy(),
		Currency:    cfg.Currency,
		ItemTimeout: cfg.SweepItemTimeout,
		Logger:      logger,
	})

	sched := scheduler.New(eng, m, logger)
	trigger, err := scheduler.NewCronTrigger(sched, cfg.SweepSchedule, cfg.SweepTimeout, logger)
	if err != nil {
		logger.Error("invalid sweep schedule", "error", err)
		os.Exit(1)
	}
	trigger.Start()

	router := api.NewRouter(api.Deps{
		Subscriptions: pgStore,
		Onboarding:    pgStore,
		Plans:         eng,
		Sweeps:        sched,
		Stats:         pgStore,
		Pending:       redisStore,
		Reminders:     reminders,
		Health: map[string]api.Pinger{
			"postgres": pgStore,
			"redis":    redisStore,
		},
		Hub:          hub,
		Metrics:      m.Handler(),
		NextRun:      trigger.Next,
		SweepTimeout: cfg.SweepTimeout,
		Currency:     cfg.Currency,
		Version:      version,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// POST /api/v1/sweeps holds the connection for the whole sweep.
		WriteTimeout: cfg.SweepTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "schedule", cfg.SweepSchedule, "next_sweep", trigger.Next())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := trigger.Stop(shutdownCtx); err != nil {
		logger.Error("sweep did not finish before shutdown", "error", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newGateway builds the configured provider behind rate limiting and the
// idempotency guard.
func newGateway(cfg *config.Config, redisStore *store.RedisStore, logger *slog.Logger) gateway.Client {
	var base gateway.Client
	switch cfg.GatewayProvider {
	case config.ProviderStripe:
		base = gateway.NewStripeClient(cfg.StripeSecretKey, gateway.NewStripeBackends("", cfg.GatewayTimeout), logger)
	default:
		base = gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout, logger)
	}
	logger.Info("payment gateway configured", "provider", cfg.GatewayProvider, "rate_limit", cfg.GatewayRateLimit)

	limited := gateway.NewRateLimitedClient(base, gateway.NewRateLimiter(redisStore.Client(), logger), cfg.GatewayRateLimit)
	return gateway.NewIdempotentClient(limited, redisStore.Client(), logger)
}
