package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/config"
	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/domain/notification"
	"github.com/timebank/timebank-api/internal/jobs"
	"github.com/timebank/timebank-api/internal/pkg/database"
	"github.com/timebank/timebank-api/internal/pkg/logger"
	"github.com/timebank/timebank-api/internal/pkg/storage"
)

func main() {
	once := flag.String("run", "", "run a single job by name and exit")
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().Msg("Starting ledger-worker")

	db, err := database.NewPostgres(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, storage.Config{
		Backend:     cfg.StorageBackend,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		LocalDir:    cfg.LocalStorageDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create report storage")
	}

	// Events from auto-release reach API instances through the Redis fan-out.
	hub := notification.NewHub(rdb)
	go hub.Run()
	defer hub.Shutdown()

	engine := escrow.NewEngine(db, escrow.Config{
		HoldPeriod: cfg.EscrowHoldPeriod,
		OpTimeout:  cfg.LedgerOpTimeout,
	}, hub)
	runner := jobs.NewLedgerRunner(cfg, db, rdb, store, engine)

	if *once != "" {
		summary, err := runner.Run(ctx, *once)
		if err != nil {
			log.Error().Err(err).Str("job", *once).Msg("Job failed")
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(out))
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	stop, err := runner.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start job scheduler")
	}

	if rdb == nil {
		log.Warn().Msg("REDIS_URL not set, running without job leases or triggers")
	}
	go runner.ListenTriggers(ctx)

	<-ctx.Done()
	stop()
	log.Info().Msg("ledger-worker stopped")
}
