package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"hoostn/internal/adapters/ical"
	"hoostn/internal/adapters/observability"
	redisad "hoostn/internal/adapters/redis"
	"hoostn/internal/app"
	"hoostn/internal/shared"
	mysqlrepo "hoostn/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv, "syncer")

	log.Info().
		Str("cron", cfg.SyncCron).
		Int("batch", cfg.SyncBatchSize).
		Int("workers", cfg.SyncWorkers).
		Bool("once", cfg.SyncRunOnce).
		Msg("syncer starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	observability.Serve()

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	publisher := app.NewCalendarPublisher(repo, repo, cache, cfg.PublishTTL)
	pricing := app.NewPricingService(repo, repo)
	ingestor := ical.New(cfg.FetchTimeout, cfg.FetchRPS)
	reconciler := app.NewReconciler(repo, repo, pricing)
	syncer := app.NewSyncService(repo, repo, ingestor, reconciler, cache, publisher, app.SyncConfig{
		BatchSize:      cfg.SyncBatchSize,
		Workers:        cfg.SyncWorkers,
		ErrorThreshold: cfg.ErrorThreshold,
		LockTTL:        cfg.SyncLockTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tick := func() {
		stats, err := syncer.RunTick(ctx)
		if err != nil {
			log.Error().Err(err).Msg("tick failed")
			return
		}
		log.Info().
			Int("selected", stats.Selected).
			Int("succeeded", stats.Succeeded).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Int("conflicts", stats.Conflicts).
			Msg("tick done")
	}

	if cfg.SyncRunOnce {
		tick()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.SyncCron, tick); err != nil {
		log.Fatal().Err(err).Str("cron", cfg.SyncCron).Msg("invalid schedule")
	}
	c.Start()

	<-ctx.Done()
	log.Info().Msg("shutting down, waiting for running jobs")
	<-c.Stop().Done()
}
