package app

import (
	"context"
	"time"

	"hoostn/internal/domain"
)

// AvailabilityService answers whether a candidate stay is legal under the
// unit's rules and existing reservations. Pure read, no side effects; the
// booking commit re-runs the same checks inside the insert transaction.
type AvailabilityService struct {
	rules domain.RuleRepository
	res   domain.ReservationRepository
}

func NewAvailabilityService(rules domain.RuleRepository, res domain.ReservationRepository) *AvailabilityService {
	return &AvailabilityService{rules: rules, res: res}
}

// Check short-circuits on the first failing step: range validity, blocked
// rules, overlapping reservations, minimum-stay rules.
func (s *AvailabilityService) Check(ctx context.Context, unitID int64, checkIn, checkOut time.Time) (domain.Verdict, error) {
	nights := domain.Nights(checkIn, checkOut)
	if nights <= 0 {
		return domain.Verdict{}, domain.ErrInvalidRange
	}
	v := domain.Verdict{Nights: nights}

	blocked, err := s.rules.RulesIntersecting(ctx, unitID, domain.RuleBlocked, checkIn, checkOut)
	if err != nil {
		return domain.Verdict{}, err
	}
	if len(blocked) > 0 {
		v.Reason = domain.ReasonBlocked
		v.Rules = blocked
		v.RuleIDs = ruleIDs(blocked)
		return v, nil
	}

	overlapping, err := s.res.ReservationsOverlapping(ctx, unitID, checkIn, checkOut, 0)
	if err != nil {
		return domain.Verdict{}, err
	}
	if len(overlapping) > 0 {
		v.Reason = domain.ReasonReserved
		return v, nil
	}

	minStay, err := s.rules.RulesIntersecting(ctx, unitID, domain.RuleMinStay, checkIn, checkOut)
	if err != nil {
		return domain.Verdict{}, err
	}
	// Any intersecting rule binds, even on edge nights only; the strictest
	// one is reported.
	required := 0
	var binding []domain.Rule
	for _, r := range minStay {
		if r.MinNights != nil && *r.MinNights > required {
			required = *r.MinNights
			binding = []domain.Rule{r}
		}
	}
	if required > nights {
		v.Reason = domain.ReasonMinStay
		v.MinNights = required
		v.Rules = binding
		v.RuleIDs = ruleIDs(binding)
		return v, nil
	}

	v.Available = true
	return v, nil
}

func ruleIDs(rs []domain.Rule) []int64 {
	ids := make([]int64, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}
