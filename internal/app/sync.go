package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"hoostn/internal/adapters/observability"
	"hoostn/internal/domain"
)

// ErrSyncInProgress marks a connection skipped because another tick or replica
// holds its sync lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// TickStats summarizes one orchestrator tick.
type TickStats struct {
	Selected  int `json:"selected"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Created   int `json:"shadows_created"`
	Updated   int `json:"shadows_updated"`
	Cancelled int `json:"shadows_cancelled"`
	Conflicts int `json:"conflicts_raised"`
}

// SyncService drives periodic reconciliation. It is stateless between ticks:
// which connections are due lives on the connection rows (next_sync_at), so
// any replica can run a tick. Per-connection failures never abort the batch.
type SyncService struct {
	conns     domain.ConnectionRepository
	events    domain.EventRepository
	ingestor  domain.FeedIngestor
	rec       *Reconciler
	locker    domain.Locker
	publisher *CalendarPublisher

	batchSize      int
	workers        int64
	errorThreshold int
	lockTTL        time.Duration
	now            func() time.Time
}

type SyncConfig struct {
	BatchSize      int
	Workers        int
	ErrorThreshold int
	LockTTL        time.Duration
}

func NewSyncService(conns domain.ConnectionRepository, events domain.EventRepository, ing domain.FeedIngestor, rec *Reconciler, locker domain.Locker, pub *CalendarPublisher, cfg SyncConfig) *SyncService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &SyncService{
		conns:          conns,
		events:         events,
		ingestor:       ing,
		rec:            rec,
		locker:         locker,
		publisher:      pub,
		batchSize:      cfg.BatchSize,
		workers:        int64(cfg.Workers),
		errorThreshold: cfg.ErrorThreshold,
		lockTTL:        cfg.LockTTL,
		now:            time.Now,
	}
}

// RunTick claims due connections and syncs them with bounded concurrency.
func (s *SyncService) RunTick(ctx context.Context) (TickStats, error) {
	claimed, err := s.conns.ClaimDue(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return TickStats{}, err
	}

	var (
		mu    sync.Mutex
		stats = TickStats{Selected: len(claimed)}
		sem   = semaphore.NewWeighted(s.workers)
		wg    sync.WaitGroup
	)
	for _, conn := range claimed {
		if err := sem.Acquire(ctx, 1); err != nil {
			// In-flight workers still hold the store and the shared stats;
			// drain them before handing the caller its copy.
			wg.Wait()
			return stats, err
		}
		wg.Add(1)
		go func(conn domain.Connection) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := s.syncConnection(ctx, conn)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrSyncInProgress):
				stats.Skipped++
			case err != nil:
				stats.Failed++
			default:
				stats.Succeeded++
				stats.Created += res.Created
				stats.Updated += res.Updated
				stats.Cancelled += res.Cancelled
				stats.Conflicts += len(res.Conflicts)
			}
		}(conn)
	}
	wg.Wait()

	log.Info().
		Int("selected", stats.Selected).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Int("conflicts", stats.Conflicts).
		Msg("sync tick done")
	return stats, nil
}

// SyncNow is the manual trigger for a single connection. It bypasses
// scheduling, so connections in error state are re-syncable; paused is a
// deliberate operator state and stays untouched.
func (s *SyncService) SyncNow(ctx context.Context, connID int64) (ReconcileResult, error) {
	conn, err := s.conns.GetConnection(ctx, connID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if conn.Status == domain.ConnectionPaused {
		return ReconcileResult{}, domain.ErrConnectionInactive
	}
	return s.syncConnection(ctx, conn)
}

func (s *SyncService) syncConnection(ctx context.Context, conn domain.Connection) (ReconcileResult, error) {
	if s.locker != nil {
		key := fmt.Sprintf("sync:connection:%d", conn.ID)
		ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			log.Warn().Err(err).Int64("connection", conn.ID).Msg("sync lock unavailable, proceeding unguarded")
		} else if !ok {
			return ReconcileResult{}, ErrSyncInProgress
		} else {
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					log.Warn().Err(err).Int64("connection", conn.ID).Msg("sync unlock failed")
				}
			}()
		}
	}

	started := s.now()
	res, err := s.runSync(ctx, conn)
	observability.ObserveSync(conn.Platform, err, s.now().Sub(started))
	if err != nil {
		s.recordFailure(ctx, conn, err)
		return ReconcileResult{}, err
	}

	if err := s.conns.RecordSyncSuccess(ctx, conn.ID, s.now().UTC()); err != nil {
		log.Error().Err(err).Int64("connection", conn.ID).Msg("record sync success failed")
	}
	if s.publisher != nil && (res.Created+res.Updated+res.Cancelled > 0) {
		s.publisher.Invalidate(ctx, conn.UnitID)
	}
	log.Info().
		Int64("connection", conn.ID).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("cancelled", res.Cancelled).
		Int("conflicts", len(res.Conflicts)).
		Msg("connection synced")
	return res, nil
}

func (s *SyncService) runSync(ctx context.Context, conn domain.Connection) (ReconcileResult, error) {
	fresh, err := s.ingestor.Fetch(ctx, conn)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("fetch feed: %w", err)
	}
	previous, err := s.events.EventsSnapshot(ctx, conn.ID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("load snapshot: %w", err)
	}
	res, err := s.rec.Reconcile(ctx, conn, previous, fresh)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}
	if err := s.events.ReplaceEvents(ctx, conn.ID, fresh); err != nil {
		return ReconcileResult{}, fmt.Errorf("store snapshot: %w", err)
	}
	return res, nil
}

func (s *SyncService) recordFailure(ctx context.Context, conn domain.Connection, cause error) {
	status, err := s.conns.RecordSyncFailure(ctx, conn.ID, s.now().UTC(), cause.Error(), s.errorThreshold)
	if err != nil {
		log.Error().Err(err).Int64("connection", conn.ID).Msg("record sync failure failed")
		return
	}
	evt := log.Warn()
	if status == domain.ConnectionError {
		evt = log.Error()
	}
	evt.Err(cause).
		Int64("connection", conn.ID).
		Str("status", string(status)).
		Msg("connection sync failed")
}
