package domain

import "time"

type RuleKind string

const (
	RuleBlocked       RuleKind = "blocked"
	RuleMinStay       RuleKind = "min_stay"
	RulePriceOverride RuleKind = "price_override"
)

func (k RuleKind) Valid() bool {
	switch k {
	case RuleBlocked, RuleMinStay, RulePriceOverride:
		return true
	}
	return false
}

// Rule is a dated availability rule on a unit. The interval is closed:
// [StartDate, EndDate] inclusive on both ends. Rules of the same kind on the
// same unit never overlap (write-time invariant); different kinds may.
type Rule struct {
	ID        int64
	UnitID    int64
	Kind      RuleKind
	StartDate time.Time
	EndDate   time.Time

	// Kind-specific payload; exactly one of these is set.
	Reason            *string // blocked
	MinNights         *int    // min_stay
	NightlyPriceCents *int64  // price_override

	CreatedAt time.Time
}

// CoversNight reports whether the closed rule interval contains night d.
func (r Rule) CoversNight(d time.Time) bool {
	return !d.Before(r.StartDate) && !d.After(r.EndDate)
}

// IntersectsStay reports whether the rule touches any night of the half-open
// stay [checkIn, checkOut).
func (r Rule) IntersectsStay(checkIn, checkOut time.Time) bool {
	// closed [s,e] vs half-open [a,b): intersect iff s < b && a <= e
	return r.StartDate.Before(checkOut) && !checkIn.After(r.EndDate)
}
