package app

import (
	"context"
	"time"

	"hoostn/internal/domain"
)

// ConnectionService manages the links between units and external feeds.
// The HTTPS requirement is enforced here, at creation; the fetcher assumes
// stored URLs are already vetted.
type ConnectionService struct {
	conns domain.ConnectionRepository
	units domain.UnitRepository
	now   func() time.Time
}

func NewConnectionService(conns domain.ConnectionRepository, units domain.UnitRepository) *ConnectionService {
	return &ConnectionService{conns: conns, units: units, now: time.Now}
}

func (s *ConnectionService) Create(ctx context.Context, unitID int64, platform, feedURL string, frequency time.Duration) (domain.Connection, error) {
	if err := domain.ValidateFeedURL(feedURL); err != nil {
		return domain.Connection{}, err
	}
	if platform == "" {
		return domain.Connection{}, domain.ErrInvalidPayload
	}
	if _, err := s.units.GetUnit(ctx, unitID); err != nil {
		return domain.Connection{}, err
	}
	if frequency < time.Minute {
		frequency = 30 * time.Minute
	}
	now := s.now().UTC()
	return s.conns.CreateConnection(ctx, domain.Connection{
		UnitID:        unitID,
		Platform:      platform,
		FeedURL:       feedURL,
		SyncFrequency: frequency,
		Status:        domain.ConnectionActive,
		NextSyncAt:    now, // due on the next tick
		CreatedAt:     now,
	})
}

// Delete unlinks the channel; the store cascades shadow reservations, event
// snapshots and open conflicts for the connection.
func (s *ConnectionService) Delete(ctx context.Context, id int64) error {
	return s.conns.DeleteConnection(ctx, id)
}

func (s *ConnectionService) Get(ctx context.Context, id int64) (domain.Connection, error) {
	return s.conns.GetConnection(ctx, id)
}

func (s *ConnectionService) List(ctx context.Context, unitID int64) ([]domain.Connection, error) {
	return s.conns.ListConnections(ctx, unitID)
}

// Pause parks the connection; never entered automatically.
func (s *ConnectionService) Pause(ctx context.Context, id int64) error {
	return s.conns.SetConnectionStatus(ctx, id, domain.ConnectionPaused, s.now().UTC())
}

// Resume reactivates a paused or errored connection and makes it due.
func (s *ConnectionService) Resume(ctx context.Context, id int64) error {
	return s.conns.SetConnectionStatus(ctx, id, domain.ConnectionActive, s.now().UTC())
}
