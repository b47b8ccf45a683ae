package domain

import "time"

type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
	EventTentative EventStatus = "tentative"
)

// ExternalEvent is a normalized entry from a third-party calendar feed,
// keyed by the feed's own stable UID. Dates are all-day: Start..End is the
// half-open [Start, End) occupancy, matching reservation semantics.
// Only the latest snapshot per (connection, uid) is persisted, to diff
// against the next fetch.
type ExternalEvent struct {
	ConnectionID int64
	UID          string
	Start        time.Time
	End          time.Time
	Status       EventStatus
	Summary      string
	PriceCents   *int64 // set only when the feed supplies pricing
	FetchedAt    time.Time
}
