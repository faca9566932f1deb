package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/config"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/handler"
	notificationHandler "github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/handler/notification"
	webhookHandler "github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/handler/webhook"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository/postgres"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/router"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/delivery"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/instancerouter"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/monitoring"
	notificationService "github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/notification"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/reconciler"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/scheduler"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/logger"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/messaging"
	redisbroker "github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/messaging/redis"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := logger.FromZerolog(log.Logger)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, &log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer broker.Close()
	} else {
		appLogger.Warn("redis not configured, status events will not be published")
	}

	baseRepo := postgres.NewBaseRepository(db)
	attemptRepo := postgres.NewAttemptRepository(baseRepo)
	webhookRepo := postgres.NewWebhookEventRepository(baseRepo)

	m := metrics.New("notifications")
	regions := cfg.Regions.ToRegionSet()

	instanceRouter := instancerouter.NewRouter(regions)
	client := delivery.NewClient(cfg.Retry.SendTimeout, log.Logger)
	sched := scheduler.NewScheduler(attemptRepo, instanceRouter, client, scheduler.Config{
		BatchSize:         cfg.Retry.BatchSize,
		WorkerCount:       cfg.Retry.WorkerCount,
		MaxReportedErrors: cfg.Retry.MaxReportedErrors,
	}, appLogger, m)

	notificationSvc := notificationService.NewService(attemptRepo, sched, notificationService.Defaults{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BaseDelaySeconds: cfg.Retry.BaseDelaySeconds,
	}, appLogger)
	rec := reconciler.NewReconciler(webhookRepo, attemptRepo, broker, appLogger, m)
	aggregator := monitoring.NewAggregator(attemptRepo, cfg.Monitoring.StatsCacheTTL)

	r := router.NewRouter(
		handler.NewHealthHandler(db),
		router.Config{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			MetricsEnabled:   cfg.Monitoring.PrometheusEnabled,
			MetricsPath:      cfg.Monitoring.MetricsPath,
		},
		notificationHandler.NewHandler(notificationSvc, aggregator),
		webhookHandler.NewHandler(rec),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		appLogger.Info("starting api server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "graceful shutdown failed")
	}
}
