package observability

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hoostn", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hoostn", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	FeedFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hoostn", Name: "feed_fetches_total", Help: "Outbound calendar feed fetches."},
		[]string{"host", "status"},
	)
	FeedFetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hoostn", Name: "feed_fetch_duration_seconds",
			Help:    "Calendar feed fetch duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hoostn", Name: "sync_runs_total", Help: "Per-connection sync attempts."},
		[]string{"platform", "outcome"}, // outcome: ok|error
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hoostn", Name: "sync_duration_seconds",
			Help:    "Per-connection sync duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
	ConflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hoostn", Name: "conflicts_detected_total", Help: "Conflicts raised by reconciliation."},
		[]string{"type", "severity"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hoostn", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(InitRegistry()))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry returns the process registry holding every collector above.
// Idempotent: Serve and the API's /metrics mount share one registry.
func InitRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(HTTPRequests, HTTPLatency, FeedFetches, FeedFetchLatency,
			SyncRuns, SyncDuration, ConflictsDetected, CacheEvents)
	})
	return registry
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveFeedFetch(host string, status int, dur time.Duration) {
	FeedFetches.WithLabelValues(host, strconv.Itoa(status)).Inc()
	FeedFetchLatency.WithLabelValues(host).Observe(dur.Seconds())
}

func ObserveSync(platform string, err error, dur time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SyncRuns.WithLabelValues(platform, outcome).Inc()
	SyncDuration.WithLabelValues(platform).Observe(dur.Seconds())
}

func ObserveConflict(conflictType, severity string) {
	ConflictsDetected.WithLabelValues(conflictType, severity).Inc()
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}
