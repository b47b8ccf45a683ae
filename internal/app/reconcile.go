package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"hoostn/internal/adapters/observability"
	"hoostn/internal/domain"
)

// PriceQuoter is the slice of PricingService the reconciler needs to judge
// price_mismatch advisories.
type PriceQuoter interface {
	Quote(ctx context.Context, unitID int64, checkIn, checkOut time.Time) (domain.Quote, error)
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Created   int
	Updated   int
	Cancelled int
	Conflicts []domain.Conflict
}

// Reconciler diffs the previously known external events of a connection
// against a freshly ingested set and folds the difference into local state:
// shadow reservations for clean imports, Conflict rows for anything that
// would collide with a local booking. It never overwrites a local
// reservation; disagreement is surfaced, not resolved.
//
// Reconciliation is idempotent: re-running with the same fresh set and
// unchanged local state performs no writes and raises no new conflicts.
type Reconciler struct {
	res       domain.ReservationRepository
	conflicts domain.ConflictRepository
	quoter    PriceQuoter
	now       func() time.Time
}

func NewReconciler(res domain.ReservationRepository, conflicts domain.ConflictRepository, quoter PriceQuoter) *Reconciler {
	return &Reconciler{res: res, conflicts: conflicts, quoter: quoter, now: time.Now}
}

func (r *Reconciler) Reconcile(ctx context.Context, conn domain.Connection, previous, fresh []domain.ExternalEvent) (ReconcileResult, error) {
	var out ReconcileResult

	prevByUID := make(map[string]domain.ExternalEvent, len(previous))
	for _, ev := range previous {
		prevByUID[ev.UID] = ev
	}
	freshUIDs := make(map[string]struct{}, len(fresh))

	// Events are processed in feed order; there is no global ordering
	// requirement across connections.
	for _, ev := range fresh {
		ev.Start, ev.End = domain.Day(ev.Start), domain.Day(ev.End)
		freshUIDs[ev.UID] = struct{}{}

		shadow, err := r.res.ShadowByUID(ctx, conn.ID, ev.UID)
		haveShadow := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return out, err
		}

		switch {
		case ev.Status != domain.EventConfirmed:
			// Cancelled, and tentative entries never hold calendar space.
			if haveShadow && shadow.Occupies() {
				n, err := r.retireShadow(ctx, conn, shadow, ev)
				if err != nil {
					return out, err
				}
				out.merge(n)
			}

		case !haveShadow:
			n, err := r.importNew(ctx, conn, ev)
			if err != nil {
				return out, err
			}
			out.merge(n)

		case !shadow.Occupies():
			// The shadow was retired locally (keep_local or an earlier
			// cancellation). The event lingering in the feed does not
			// resurrect it.

		case !shadow.CheckIn.Equal(ev.Start) || !shadow.CheckOut.Equal(ev.End):
			n, err := r.moveShadow(ctx, conn, shadow, ev)
			if err != nil {
				return out, err
			}
			out.merge(n)
		}

		if n, err := r.checkPrice(ctx, conn, ev); err != nil {
			return out, err
		} else {
			out.merge(n)
		}
	}

	// Previously seen events now absent from the feed are cancellations.
	for _, prev := range previous {
		if _, still := freshUIDs[prev.UID]; still {
			continue
		}
		shadow, err := r.res.ShadowByUID(ctx, conn.ID, prev.UID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		if !shadow.Occupies() {
			continue
		}
		n, err := r.retireShadow(ctx, conn, shadow, prev)
		if err != nil {
			return out, err
		}
		out.merge(n)
	}

	return out, nil
}

// importNew handles a confirmed event with no shadow yet: create the mirror,
// or raise double_booking when the dates are already claimed locally.
func (r *Reconciler) importNew(ctx context.Context, conn domain.Connection, ev domain.ExternalEvent) (ReconcileResult, error) {
	var out ReconcileResult
	local, err := r.res.ReservationsOverlapping(ctx, conn.UnitID, ev.Start, ev.End, 0)
	if err != nil {
		return out, err
	}
	if len(local) > 0 {
		sev := domain.SeverityMedium
		for _, l := range local {
			if l.PaidConfirmedDirect() {
				sev = domain.SeverityHigh
				break
			}
		}
		return r.raise(ctx, conn, domain.ConflictDoubleBooking, sev, ev, local)
	}

	uid := ev.UID
	connID := conn.ID
	_, err = r.res.CreateShadow(ctx, domain.Reservation{
		UnitID:       conn.UnitID,
		CheckIn:      ev.Start,
		CheckOut:     ev.End,
		Guests:       1,
		Status:       domain.ReservationConfirmed,
		Source:       domain.SourceChannel,
		ConnectionID: &connID,
		ExternalUID:  &uid,
		TotalCents:   ev.PriceCents,
	})
	if err != nil {
		return out, err
	}
	out.Created++
	return out, nil
}

// moveShadow handles a date change on a previously imported event. The new
// range is checked against everything but the shadow itself; on collision the
// stale shadow stays in place pending resolution.
func (r *Reconciler) moveShadow(ctx context.Context, conn domain.Connection, shadow domain.Reservation, ev domain.ExternalEvent) (ReconcileResult, error) {
	var out ReconcileResult
	local, err := r.res.ReservationsOverlapping(ctx, conn.UnitID, ev.Start, ev.End, shadow.ID)
	if err != nil {
		return out, err
	}
	if len(local) > 0 {
		return r.raise(ctx, conn, domain.ConflictDateOverlap, domain.SeverityMedium, ev, local)
	}
	if err := r.res.UpdateReservationDates(ctx, shadow.ID, ev.Start, ev.End); err != nil {
		return out, err
	}
	out.Updated++
	return out, nil
}

// retireShadow handles a cancelled or vanished event. When a resolved
// conflict had named the event authoritative, a human confirms the downstream
// effect instead of a silent cancel.
func (r *Reconciler) retireShadow(ctx context.Context, conn domain.Connection, shadow domain.Reservation, ev domain.ExternalEvent) (ReconcileResult, error) {
	var out ReconcileResult
	promoted, err := r.conflicts.WasPromotedByResolution(ctx, conn.ID, ev.UID)
	if err != nil {
		return out, err
	}
	if promoted {
		return r.raise(ctx, conn, domain.ConflictCancellationSync, domain.SeverityHigh, ev, []domain.Reservation{shadow})
	}
	if err := r.res.CancelReservation(ctx, shadow.ID); err != nil {
		return out, err
	}
	out.Cancelled++
	return out, nil
}

// checkPrice raises the advisory price_mismatch when the feed carries a price
// that disagrees with the locally expected accommodation total. Never blocks
// dates.
func (r *Reconciler) checkPrice(ctx context.Context, conn domain.Connection, ev domain.ExternalEvent) (ReconcileResult, error) {
	var out ReconcileResult
	if r.quoter == nil || ev.PriceCents == nil || ev.Status != domain.EventConfirmed {
		return out, nil
	}
	q, err := r.quoter.Quote(ctx, conn.UnitID, ev.Start, ev.End)
	if err != nil {
		// A non-priceable range is not the feed's fault; skip the advisory.
		log.Debug().Err(err).Str("uid", ev.UID).Msg("price check skipped")
		return out, nil
	}
	if q.AccommodationCents == *ev.PriceCents {
		return out, nil
	}
	return r.raise(ctx, conn, domain.ConflictPriceMismatch, domain.SeverityLow, ev, nil)
}

// raise creates a conflict unless an open one already covers the same
// (connection, uid, type) — re-detection on later runs must not duplicate.
func (r *Reconciler) raise(ctx context.Context, conn domain.Connection, t domain.ConflictType, sev domain.ConflictSeverity, ev domain.ExternalEvent, local []domain.Reservation) (ReconcileResult, error) {
	var out ReconcileResult
	exists, err := r.conflicts.HasOpenConflict(ctx, conn.ID, ev.UID, t)
	if err != nil || exists {
		return out, err
	}
	remote := mustJSON(eventSnapshot(ev))
	if t == domain.ConflictPriceMismatch {
		// A dismissed advisory stays dismissed while the feed still reports
		// the same state; a changed snapshot is new information.
		ignored, err := r.conflicts.HasIgnoredDuplicate(ctx, conn.ID, ev.UID, t, remote)
		if err != nil || ignored {
			return out, err
		}
	}

	c := domain.Conflict{
		UnitID:       conn.UnitID,
		ConnectionID: conn.ID,
		Type:         t,
		Severity:     sev,
		Status:       domain.ConflictUnresolved,
		DetectedAt:   r.now().UTC(),
	}
	uid := ev.UID
	c.ExternalUID = &uid
	if len(local) > 0 {
		c.ReservationID = &local[0].ID
	}
	c.RemoteJSON = remote
	if len(local) > 0 {
		c.LocalJSON = mustJSON(reservationSnapshots(local))
	}

	created, err := r.conflicts.CreateConflict(ctx, c)
	if err != nil {
		return out, err
	}
	out.Conflicts = append(out.Conflicts, created)
	observability.ObserveConflict(string(t), string(sev))
	log.Warn().
		Int64("connection", conn.ID).
		Int64("unit", conn.UnitID).
		Str("uid", ev.UID).
		Str("type", string(t)).
		Str("severity", string(sev)).
		Msg("conflict raised")
	return out, nil
}

func (r *ReconcileResult) merge(o ReconcileResult) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Cancelled += o.Cancelled
	r.Conflicts = append(r.Conflicts, o.Conflicts...)
}

// Snapshot shapes stored on conflicts. Diagnostic only: resolution
// re-validates against live state, never trusts these.

type eventSnap struct {
	UID     string `json:"uid"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Price   *int64 `json:"price_cents,omitempty"`
}

type reservationSnap struct {
	ID       int64  `json:"id"`
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	Status   string `json:"status"`
	Source   string `json:"source"`
}

func eventSnapshot(ev domain.ExternalEvent) eventSnap {
	return eventSnap{
		UID:     ev.UID,
		Start:   ev.Start.Format(domain.DateFormat),
		End:     ev.End.Format(domain.DateFormat),
		Status:  string(ev.Status),
		Summary: ev.Summary,
		Price:   ev.PriceCents,
	}
}

func reservationSnapshots(rs []domain.Reservation) []reservationSnap {
	out := make([]reservationSnap, 0, len(rs))
	for _, r := range rs {
		out = append(out, reservationSnap{
			ID:       r.ID,
			CheckIn:  r.CheckIn.Format(domain.DateFormat),
			CheckOut: r.CheckOut.Format(domain.DateFormat),
			Status:   string(r.Status),
			Source:   string(r.Source),
		})
	}
	return out
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("conflict snapshot marshal failed")
		return nil
	}
	return b
}
