package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Validation — rejected synchronously, never retried.
	ErrInvalidRange    = errors.New("check_out must be after check_in")
	ErrRuleOverlap     = errors.New("rule overlaps an existing rule of the same kind")
	ErrInvalidPayload  = errors.New("rule payload does not match its kind")
	ErrInsecureFeedURL = errors.New("feed url must be https")

	// Booking commit lost the check-then-act race; carries no blame, the
	// caller re-quotes.
	ErrUnavailable = errors.New("dates no longer available")

	// Pricing.
	ErrNoNightlyPrice = errors.New("no base price and no override covers every night")

	// Conflict resolution.
	ErrConflictClosed     = errors.New("conflict already resolved or ignored")
	ErrResolutionBlocked  = errors.New("resolution would create a new overlap")
	ErrConnectionInactive = errors.New("connection is paused")
)
