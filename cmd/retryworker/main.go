// Command retryworker is the externally-triggered batch job: it processes
// due retry attempts once and exits. Exit code 0 means the run completed,
// even when individual attempts failed (those are reported in the printed
// result); exit code 1 means the run could not start at all.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/config"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository/postgres"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/delivery"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/instancerouter"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/reconciler"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/scheduler"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/logger"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/messaging"
	redisbroker "github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/messaging/redis"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/metrics"
)

type runReport struct {
	Retries   *scheduler.RunResult `json:"retries,omitempty"`
	Swept     *int64               `json:"swept,omitempty"`
	Rematched *int                 `json:"rematched,omitempty"`
}

func main() {
	sourceApp := flag.String("source-app", "", "only process attempts from this source app")
	batchSize := flag.Int("batch-size", 0, "max attempts per run (0 = configured default)")
	dryRun := flag.Bool("dry-run", false, "select and count due attempts without sending")
	sweepDays := flag.Int("sweep-days", 0, "delete terminal attempts older than this many days (0 = skip)")
	rematch := flag.Int("rematch", 0, "re-match up to this many unlinked webhook events (0 = skip)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	flag.Parse()

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := logger.FromZerolog(log.Logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to database")
		os.Exit(1)
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
			log.Error().Err(err).Msg("failed to connect to Redis")
			os.Exit(1)
		}
		defer broker.Close()
	}

	baseRepo := postgres.NewBaseRepository(db)
	attemptRepo := postgres.NewAttemptRepository(baseRepo)
	webhookRepo := postgres.NewWebhookEventRepository(baseRepo)

	m := metrics.NewUnregistered("retryworker")
	instanceRouter := instancerouter.NewRouter(cfg.Regions.ToRegionSet())
	client := delivery.NewClient(cfg.Retry.SendTimeout, log.Logger)
	sched := scheduler.NewScheduler(attemptRepo, instanceRouter, client, scheduler.Config{
		BatchSize:         cfg.Retry.BatchSize,
		WorkerCount:       cfg.Retry.WorkerCount,
		MaxReportedErrors: cfg.Retry.MaxReportedErrors,
	}, appLogger, m)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var report runReport

	opts := scheduler.RunOptions{BatchSize: *batchSize, DryRun: *dryRun}
	if *sourceApp != "" {
		app := model.SourceApp(*sourceApp)
		opts.SourceApp = &app
	}

	result, err := sched.Run(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("retry run failed")
		os.Exit(1)
	}
	report.Retries = result

	if *sweepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -*sweepDays)
		swept, err := attemptRepo.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("retention sweep failed")
			os.Exit(1)
		}
		report.Swept = &swept
	}

	if *rematch > 0 {
		rec := reconciler.NewReconciler(webhookRepo, attemptRepo, broker, appLogger, m)
		linked, err := rec.RematchUnlinked(ctx, *rematch)
		if err != nil {
			log.Error().Err(err).Msg("webhook re-match failed")
			os.Exit(1)
		}
		report.Rematched = &linked
	}

	out, _ := json.Marshal(report)
	fmt.Println(string(out))
}
