package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	// Shared secret for the sync trigger endpoints.
	SyncSecret string

	// Syncer tuning.
	SyncBatchSize  int
	SyncWorkers    int
	ErrorThreshold int
	SyncLockTTL    time.Duration
	SyncCron       string
	SyncRunOnce    bool

	// Feed fetching.
	FetchTimeout time.Duration
	FetchRPS     int

	// Published .ics cache.
	PublishTTL time.Duration
}

func Load() Config {
	// Local dev convenience; absent .env is fine.
	_ = godotenv.Load()

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:         env("APP_ENV", "prod"),
		HTTPAddr:       env("HTTP_ADDR", ":8080"),
		MetricsAddr:    env("METRICS_ADDR", ":9100"),
		MySQLDSN:       env("MYSQL_DSN", "root:root@tcp(localhost:3306)/hoostn?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:      env("REDIS_ADDR", "localhost:6379"),
		RedisDB:        atoi("REDIS_DB", 0),
		RedisPass:      env("REDIS_PASSWORD", ""),
		SyncSecret:     env("SYNC_SECRET", ""),
		SyncBatchSize:  atoi("SYNC_BATCH_SIZE", 50),
		SyncWorkers:    atoi("SYNC_WORKERS", 4),
		ErrorThreshold: atoi("SYNC_ERROR_THRESHOLD", 5),
		SyncLockTTL:    time.Duration(atoi("SYNC_LOCK_TTL_SECONDS", 600)) * time.Second,
		SyncCron:       env("SYNC_CRON", "@every 1m"),
		SyncRunOnce:    env("SYNC_RUN_ONCE", "") == "1",
		FetchTimeout:   time.Duration(atoi("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		FetchRPS:       atoi("FETCH_RPS", 2),
		PublishTTL:     time.Duration(atoi("PUBLISH_TTL_SECONDS", 300)) * time.Second,
	}
	if c.SyncSecret == "" {
		log.Warn().Msg("SYNC_SECRET is empty; sync trigger endpoints are unauthenticated")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
