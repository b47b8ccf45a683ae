package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"hoostn/internal/domain"
)

// ConflictService closes conflicts on behalf of a human (or policy caller).
// Both sides may have moved since detection, so resolution re-validates
// intersections against live state; the stored snapshots are diagnostics.
type ConflictService struct {
	conflicts domain.ConflictRepository
	res       domain.ReservationRepository
	publisher *CalendarPublisher
	now       func() time.Time
}

func NewConflictService(conflicts domain.ConflictRepository, res domain.ReservationRepository, pub *CalendarPublisher) *ConflictService {
	return &ConflictService{conflicts: conflicts, res: res, publisher: pub, now: time.Now}
}

func (s *ConflictService) List(ctx context.Context, f domain.ConflictFilter) ([]domain.Conflict, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.conflicts.ListOpenConflicts(ctx, f)
}

// Ignore closes the conflict without touching either booking. Terminal.
func (s *ConflictService) Ignore(ctx context.Context, id int64) error {
	c, err := s.conflicts.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if !c.Open() {
		return domain.ErrConflictClosed
	}
	return s.conflicts.CloseConflict(ctx, id, domain.ConflictIgnored, nil, nil, s.now().UTC())
}

// Resolve applies the chosen action and transitions the conflict to resolved.
// keep_remote re-runs the intersection check first and rejects the resolution
// outright if state has moved against it — no partial mutation.
func (s *ConflictService) Resolve(ctx context.Context, id int64, action domain.ResolutionAction, notes string) error {
	if !action.Valid() {
		return domain.ErrInvalidPayload
	}
	c, err := s.conflicts.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if !c.Open() {
		return domain.ErrConflictClosed
	}

	switch action {
	case domain.ResolveKeepLocal:
		err = s.retireRemote(ctx, c)
	case domain.ResolveKeepRemote:
		err = s.promoteRemote(ctx, c)
	case domain.ResolveManualMerge:
		// Adjudicated entirely outside the system; record only.
	case domain.ResolveCancelledBoth:
		if err = s.cancelLocal(ctx, c); err == nil {
			err = s.retireRemote(ctx, c)
		}
	}
	if err != nil {
		return err
	}

	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}
	if err := s.conflicts.CloseConflict(ctx, id, domain.ConflictResolved, &action, notesPtr, s.now().UTC()); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Invalidate(ctx, c.UnitID)
	}
	log.Info().Int64("conflict", id).Str("action", string(action)).Msg("conflict resolved")
	return nil
}

// retireRemote cancels the external-derived booking. When no shadow exists
// (double_booking detection blocks the import) a cancelled marker is written
// instead, so later syncs do not re-import the still-present feed event.
func (s *ConflictService) retireRemote(ctx context.Context, c domain.Conflict) error {
	if c.ExternalUID == nil {
		return nil
	}
	shadow, err := s.res.ShadowByUID(ctx, c.ConnectionID, *c.ExternalUID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		snap, serr := s.remoteSnapshot(c)
		if serr != nil {
			return serr
		}
		connID := c.ConnectionID
		uid := *c.ExternalUID
		_, err = s.res.CreateShadow(ctx, domain.Reservation{
			UnitID:       c.UnitID,
			CheckIn:      snap.start,
			CheckOut:     snap.end,
			Guests:       1,
			Status:       domain.ReservationCancelled,
			Source:       domain.SourceChannel,
			ConnectionID: &connID,
			ExternalUID:  &uid,
		})
		return err
	case err != nil:
		return err
	case shadow.Occupies():
		return s.res.CancelReservation(ctx, shadow.ID)
	}
	return nil
}

// promoteRemote installs the external event as the occupying shadow and then
// cancels the local side, re-checking intersections once more first.
func (s *ConflictService) promoteRemote(ctx context.Context, c domain.Conflict) error {
	if c.ExternalUID == nil {
		return domain.ErrInvalidPayload
	}
	snap, err := s.remoteSnapshot(c)
	if err != nil {
		return err
	}

	shadow, err := s.res.ShadowByUID(ctx, c.ConnectionID, *c.ExternalUID)
	haveShadow := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	excludeID := int64(0)
	if haveShadow {
		excludeID = shadow.ID
	}
	overlapping, err := s.res.ReservationsOverlapping(ctx, c.UnitID, snap.start, snap.end, excludeID)
	if err != nil {
		return err
	}
	for _, o := range overlapping {
		// Overlap with the local side being cancelled is the point of the
		// action; anything else blocks the resolution.
		if c.ReservationID != nil && o.ID == *c.ReservationID {
			continue
		}
		return fmt.Errorf("reservation %d now occupies %s..%s: %w",
			o.ID, snap.start.Format(domain.DateFormat), snap.end.Format(domain.DateFormat),
			domain.ErrResolutionBlocked)
	}

	// Install the remote side before touching the local booking: a failure
	// here leaves the conflict open with nothing mutated.
	switch {
	case haveShadow && shadow.Occupies():
		if !shadow.CheckIn.Equal(snap.start) || !shadow.CheckOut.Equal(snap.end) {
			if err := s.res.UpdateReservationDates(ctx, shadow.ID, snap.start, snap.end); err != nil {
				return err
			}
		}
	case haveShadow:
		// The shadow was retired after detection (feed dropped the event, or
		// an earlier keep_local left a marker). Revive it in place; inserting
		// would trip the (connection, uid) unique key.
		if err := s.res.ReinstateShadow(ctx, shadow.ID, snap.start, snap.end); err != nil {
			return err
		}
	default:
		connID := c.ConnectionID
		uid := *c.ExternalUID
		if _, err := s.res.CreateShadow(ctx, domain.Reservation{
			UnitID:       c.UnitID,
			CheckIn:      snap.start,
			CheckOut:     snap.end,
			Guests:       1,
			Status:       domain.ReservationConfirmed,
			Source:       domain.SourceChannel,
			ConnectionID: &connID,
			ExternalUID:  &uid,
		}); err != nil {
			return err
		}
	}
	return s.cancelLocal(ctx, c)
}

func (s *ConflictService) cancelLocal(ctx context.Context, c domain.Conflict) error {
	if c.ReservationID == nil {
		return nil
	}
	r, err := s.res.GetReservation(ctx, *c.ReservationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !r.Occupies() {
		return nil
	}
	return s.res.CancelReservation(ctx, r.ID)
}

type remoteDates struct {
	start, end time.Time
}

func (s *ConflictService) remoteSnapshot(c domain.Conflict) (remoteDates, error) {
	var snap eventSnap
	if err := json.Unmarshal(c.RemoteJSON, &snap); err != nil {
		return remoteDates{}, fmt.Errorf("conflict %d remote snapshot: %w", c.ID, err)
	}
	start, err := domain.ParseDate(snap.Start)
	if err != nil {
		return remoteDates{}, fmt.Errorf("conflict %d remote snapshot start: %w", c.ID, err)
	}
	end, err := domain.ParseDate(snap.End)
	if err != nil {
		return remoteDates{}, fmt.Errorf("conflict %d remote snapshot end: %w", c.ID, err)
	}
	return remoteDates{start: start, end: end}, nil
}
