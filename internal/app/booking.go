package app

import (
	"context"

	"hoostn/internal/domain"
)

// BookingService is the commit half of the booking path. The availability
// check a guest saw while quoting is advisory; the store repeats it inside
// the same transaction that inserts the row, which is the single place true
// mutual exclusion is required.
type BookingService struct {
	units     domain.UnitRepository
	res       domain.ReservationRepository
	publisher *CalendarPublisher
}

func NewBookingService(units domain.UnitRepository, res domain.ReservationRepository, pub *CalendarPublisher) *BookingService {
	return &BookingService{units: units, res: res, publisher: pub}
}

func (s *BookingService) Book(ctx context.Context, req domain.BookingRequest) (domain.Reservation, error) {
	if domain.Nights(req.CheckIn, req.CheckOut) <= 0 {
		return domain.Reservation{}, domain.ErrInvalidRange
	}
	unit, err := s.units.GetUnit(ctx, req.UnitID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if req.Guests < unit.MinGuests || (unit.MaxGuests > 0 && req.Guests > unit.MaxGuests) {
		return domain.Reservation{}, domain.ErrInvalidPayload
	}
	req.CheckIn, req.CheckOut = domain.Day(req.CheckIn), domain.Day(req.CheckOut)

	r, err := s.res.CreateReservationChecked(ctx, req)
	if err != nil {
		return domain.Reservation{}, err
	}
	if s.publisher != nil {
		s.publisher.Invalidate(ctx, req.UnitID)
	}
	return r, nil
}

// Cancel releases the dates; republished feeds drop the entry on the next
// export.
func (s *BookingService) Cancel(ctx context.Context, id int64) error {
	r, err := s.res.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.res.CancelReservation(ctx, id); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Invalidate(ctx, r.UnitID)
	}
	return nil
}
