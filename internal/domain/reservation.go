package domain

import "time"

type ReservationStatus string

const (
	ReservationPending    ReservationStatus = "pending"
	ReservationConfirmed  ReservationStatus = "confirmed"
	ReservationCheckedIn  ReservationStatus = "checked_in"
	ReservationCheckedOut ReservationStatus = "checked_out"
	ReservationCancelled  ReservationStatus = "cancelled"
)

type ReservationSource string

const (
	SourceDirect  ReservationSource = "direct"
	SourceChannel ReservationSource = "channel"
)

// Reservation is a local booking. A stay occupies the half-open range
// [CheckIn, CheckOut); only non-cancelled reservations occupy calendar space.
// A shadow reservation (Source == channel) mirrors a confirmed external event
// and carries the connection and external UID it was imported from.
type Reservation struct {
	ID          int64
	UnitID      int64
	CheckIn     time.Time
	CheckOut    time.Time
	Guests      int
	Status      ReservationStatus
	Source      ReservationSource
	ConnectionID *int64
	ExternalUID  *string
	GuestName    *string
	TotalCents   *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Occupies reports whether the reservation holds calendar space.
func (r Reservation) Occupies() bool { return r.Status != ReservationCancelled }

// IsShadow reports whether the reservation mirrors an external booking.
func (r Reservation) IsShadow() bool { return r.Source == SourceChannel && r.ExternalUID != nil }

// PaidConfirmedDirect reports whether the local side is a guest booking a
// double-booking against which is treated as high severity.
func (r Reservation) PaidConfirmedDirect() bool {
	return r.Source == SourceDirect &&
		(r.Status == ReservationConfirmed || r.Status == ReservationCheckedIn)
}
