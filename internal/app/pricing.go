package app

import (
	"context"
	"fmt"
	"time"

	"hoostn/internal/domain"
)

// OverridePolicy picks the winning price_override when several rules cover
// the same night. The default is latest-created wins; it is a policy choice,
// not a contract, so it stays swappable.
type OverridePolicy func(candidates []domain.Rule) domain.Rule

// LatestCreatedWins breaks ties by CreatedAt, then by ID for stability.
func LatestCreatedWins(candidates []domain.Rule) domain.Rule {
	best := candidates[0]
	for _, r := range candidates[1:] {
		if r.CreatedAt.After(best.CreatedAt) ||
			(r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	return best
}

// PricingService computes the per-stay price breakdown: per-night override or
// base price, flat cleaning fee, per-night tourist tax.
type PricingService struct {
	units  domain.UnitRepository
	rules  domain.RuleRepository
	policy OverridePolicy
}

func NewPricingService(units domain.UnitRepository, rules domain.RuleRepository) *PricingService {
	return &PricingService{units: units, rules: rules, policy: LatestCreatedWins}
}

// WithOverridePolicy replaces the tie-break policy.
func (s *PricingService) WithOverridePolicy(p OverridePolicy) *PricingService {
	s.policy = p
	return s
}

func (s *PricingService) Quote(ctx context.Context, unitID int64, checkIn, checkOut time.Time) (domain.Quote, error) {
	nights := domain.Nights(checkIn, checkOut)
	if nights <= 0 {
		return domain.Quote{}, domain.ErrInvalidRange
	}
	unit, err := s.units.GetUnit(ctx, unitID)
	if err != nil {
		return domain.Quote{}, err
	}
	overrides, err := s.rules.RulesIntersecting(ctx, unitID, domain.RulePriceOverride, checkIn, checkOut)
	if err != nil {
		return domain.Quote{}, err
	}

	var accommodation int64
	var priceErr error
	domain.EachNight(checkIn, checkOut, func(night time.Time) {
		if priceErr != nil {
			return
		}
		var covering []domain.Rule
		for _, r := range overrides {
			if r.CoversNight(night) {
				covering = append(covering, r)
			}
		}
		switch {
		case len(covering) > 0:
			accommodation += *s.policy(covering).NightlyPriceCents
		case unit.BasePriceCents > 0:
			accommodation += unit.BasePriceCents
		default:
			priceErr = fmt.Errorf("night %s: %w", night.Format(domain.DateFormat), domain.ErrNoNightlyPrice)
		}
	})
	if priceErr != nil {
		return domain.Quote{}, priceErr
	}

	tax := unit.TaxPerNightCents * int64(nights)
	q := domain.Quote{
		UnitID:             unitID,
		CheckIn:            checkIn.Format(domain.DateFormat),
		CheckOut:           checkOut.Format(domain.DateFormat),
		Nights:             nights,
		AccommodationCents: accommodation,
		CleaningFeeCents:   unit.CleaningFeeCents,
		TouristTaxCents:    tax,
		TotalCents:         accommodation + unit.CleaningFeeCents + tax,
		Currency:           unit.Currency,
	}
	return q, nil
}
