package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "hoostn/internal/adapters/http_server"
	"hoostn/internal/adapters/ical"
	"hoostn/internal/adapters/observability"
	redisad "hoostn/internal/adapters/redis"
	"hoostn/internal/app"
	"hoostn/internal/shared"
	mysqlrepo "hoostn/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api")

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	publisher := app.NewCalendarPublisher(repo, repo, cache, cfg.PublishTTL)
	pricing := app.NewPricingService(repo, repo)
	availability := app.NewAvailabilityService(repo, repo)
	bookings := app.NewBookingService(repo, repo, publisher)
	rules := app.NewRuleService(repo, publisher)
	connections := app.NewConnectionService(repo, repo)
	conflicts := app.NewConflictService(repo, repo, publisher)

	// The API hosts the on-demand sync trigger; the periodic loop lives in
	// cmd/syncer.
	ingestor := ical.New(cfg.FetchTimeout, cfg.FetchRPS)
	reconciler := app.NewReconciler(repo, repo, pricing)
	syncer := app.NewSyncService(repo, repo, ingestor, reconciler, cache, publisher, app.SyncConfig{
		BatchSize:      cfg.SyncBatchSize,
		Workers:        cfg.SyncWorkers,
		ErrorThreshold: cfg.ErrorThreshold,
		LockTTL:        cfg.SyncLockTTL,
	})

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Availability: availability,
		Pricing:      pricing,
		Bookings:     bookings,
		Rules:        rules,
		Connections:  connections,
		Conflicts:    conflicts,
		Sync:         syncer,
		Publisher:    publisher,
		SyncSecret:   cfg.SyncSecret,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
