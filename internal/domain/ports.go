package domain

import (
	"context"
	"time"
)

// Read models

// Verdict is the availability answer for a candidate stay. Unavailability is
// a normal result, never an error.
type Verdict struct {
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
	Rules     []Rule  `json:"-"`
	RuleIDs   []int64 `json:"blocking_rules,omitempty"`
	MinNights int     `json:"min_nights,omitempty"` // binding requirement for ReasonMinStay
	Nights    int     `json:"nights"`
}

const (
	ReasonBlocked  = "blocked"
	ReasonReserved = "reserved"
	ReasonMinStay  = "minimum stay not met"
)

// Quote is the computed price breakdown for a stay.
type Quote struct {
	UnitID             int64  `json:"unit_id"`
	CheckIn            string `json:"check_in"`
	CheckOut           string `json:"check_out"`
	Nights             int    `json:"nights"`
	AccommodationCents int64  `json:"accommodation_total_cents"`
	CleaningFeeCents   int64  `json:"cleaning_fee_cents"`
	TouristTaxCents    int64  `json:"tourist_tax_cents"`
	TotalCents         int64  `json:"total_cents"`
	Currency           string `json:"currency"`
}

// BookingRequest is a direct-booking commit. The store re-runs the full
// availability check inside the insert transaction.
type BookingRequest struct {
	UnitID     int64
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int
	GuestName  *string
	TotalCents *int64
}

// ConflictFilter narrows the open-conflict feed for operator tooling.
type ConflictFilter struct {
	UnitID *int64
	OrgID  *int64
	Limit  int
}

// Store ports. The MySQL repo implements all of them; services depend on the
// narrow slices they need so tests can fake them cheaply.

type UnitRepository interface {
	GetUnit(ctx context.Context, id int64) (Unit, error)
}

type RuleRepository interface {
	// CreateRule enforces the same-kind no-overlap invariant inside the
	// insert transaction and returns ErrRuleOverlap on violation.
	CreateRule(ctx context.Context, r Rule) (Rule, error)
	DeleteRule(ctx context.Context, id int64) error
	ListRules(ctx context.Context, unitID int64) ([]Rule, error)
	// RulesIntersecting returns rules of one kind touching any night of
	// the half-open stay [checkIn, checkOut).
	RulesIntersecting(ctx context.Context, unitID int64, kind RuleKind, checkIn, checkOut time.Time) ([]Rule, error)
}

type ReservationRepository interface {
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	// ReservationsOverlapping returns non-cancelled reservations on the unit
	// intersecting [checkIn, checkOut); excludeID (0 = none) skips one row,
	// used when re-checking a shadow's own date change.
	ReservationsOverlapping(ctx context.Context, unitID int64, checkIn, checkOut time.Time, excludeID int64) ([]Reservation, error)
	// CreateReservationChecked is the atomic check-then-insert for the
	// booking commit path; returns ErrUnavailable when the race is lost.
	CreateReservationChecked(ctx context.Context, req BookingRequest) (Reservation, error)
	// CreateShadow inserts a channel-sourced mirror of an external event.
	CreateShadow(ctx context.Context, r Reservation) (Reservation, error)
	UpdateReservationDates(ctx context.Context, id int64, checkIn, checkOut time.Time) error
	// ReinstateShadow revives a retired shadow row in place; the
	// (connection_id, external_uid) unique key forbids inserting a second.
	ReinstateShadow(ctx context.Context, id int64, checkIn, checkOut time.Time) error
	CancelReservation(ctx context.Context, id int64) error
	ShadowByUID(ctx context.Context, connectionID int64, uid string) (Reservation, error)
	ListReservations(ctx context.Context, unitID int64) ([]Reservation, error)
}

type EventRepository interface {
	EventsSnapshot(ctx context.Context, connectionID int64) ([]ExternalEvent, error)
	ReplaceEvents(ctx context.Context, connectionID int64, events []ExternalEvent) error
}

type ConnectionRepository interface {
	CreateConnection(ctx context.Context, c Connection) (Connection, error)
	// DeleteConnection cascades the connection's shadow reservations, event
	// snapshots and open conflicts.
	DeleteConnection(ctx context.Context, id int64) error
	GetConnection(ctx context.Context, id int64) (Connection, error)
	ListConnections(ctx context.Context, unitID int64) ([]Connection, error)
	// ClaimDue selects active connections with next_sync_at <= now ordered by
	// next_sync_at, at most limit, advancing next_sync_at as part of the
	// claim so overlapping ticks and other replicas skip them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Connection, error)
	RecordSyncSuccess(ctx context.Context, id int64, now time.Time) error
	// RecordSyncFailure increments the consecutive error counter, stores msg,
	// advances next_sync_at, and flips status to error once the counter
	// reaches threshold. Returns the resulting status.
	RecordSyncFailure(ctx context.Context, id int64, now time.Time, msg string, threshold int) (ConnectionStatus, error)
	// SetConnectionStatus is the manual pause/resume path; setting active
	// clears the error counter and message and makes the connection due.
	SetConnectionStatus(ctx context.Context, id int64, status ConnectionStatus, now time.Time) error
}

type ConflictRepository interface {
	CreateConflict(ctx context.Context, c Conflict) (Conflict, error)
	// HasOpenConflict dedupes re-detection: an unresolved conflict already
	// exists for the same connection, external UID and type.
	HasOpenConflict(ctx context.Context, connectionID int64, uid string, t ConflictType) (bool, error)
	// HasIgnoredDuplicate reports an ignored conflict for the same
	// connection, UID and type whose remote snapshot is identical, so
	// advisories an operator dismissed stay dismissed until the feed's
	// side of the story changes.
	HasIgnoredDuplicate(ctx context.Context, connectionID int64, uid string, t ConflictType, remoteJSON []byte) (bool, error)
	GetConflict(ctx context.Context, id int64) (Conflict, error)
	ListOpenConflicts(ctx context.Context, f ConflictFilter) ([]Conflict, error)
	CloseConflict(ctx context.Context, id int64, status ConflictStatus, action *ResolutionAction, notes *string, now time.Time) error
	// WasPromotedByResolution reports whether a resolved conflict named this
	// external event the authoritative side (keep_remote).
	WasPromotedByResolution(ctx context.Context, connectionID int64, uid string) (bool, error)
}

// Store is everything the MySQL repo provides.
type Store interface {
	UnitRepository
	RuleRepository
	ReservationRepository
	EventRepository
	ConnectionRepository
	ConflictRepository
}

// FeedIngestor fetches and parses a connection's external feed into
// normalized events keyed by the feed's stable UID. Network failure, timeout
// and malformed content all surface as one connection-level error.
type FeedIngestor interface {
	Fetch(ctx context.Context, conn Connection) ([]ExternalEvent, error)
}

// Cache is a TTL byte cache (redis in production). Availability and price
// verdicts are never cached; see the shared-resource policy.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Locker is the per-connection in-progress marker for overlapping ticks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
