package app

import (
	"context"
	"time"

	"hoostn/internal/domain"
)

// RuleService is the write path for availability rules. Invariant violations
// (inverted range, payload/kind mismatch, same-kind overlap) are rejected
// here or inside the store transaction and never persisted.
type RuleService struct {
	rules     domain.RuleRepository
	publisher *CalendarPublisher
}

func NewRuleService(rules domain.RuleRepository, pub *CalendarPublisher) *RuleService {
	return &RuleService{rules: rules, publisher: pub}
}

func (s *RuleService) Create(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	r.StartDate, r.EndDate = domain.Day(r.StartDate), domain.Day(r.EndDate)
	if r.EndDate.Before(r.StartDate) {
		return domain.Rule{}, domain.ErrInvalidRange
	}
	if !r.Kind.Valid() {
		return domain.Rule{}, domain.ErrInvalidPayload
	}
	switch r.Kind {
	case domain.RuleBlocked:
		if r.Reason == nil || *r.Reason == "" || r.MinNights != nil || r.NightlyPriceCents != nil {
			return domain.Rule{}, domain.ErrInvalidPayload
		}
	case domain.RuleMinStay:
		if r.MinNights == nil || *r.MinNights < 1 || r.Reason != nil || r.NightlyPriceCents != nil {
			return domain.Rule{}, domain.ErrInvalidPayload
		}
	case domain.RulePriceOverride:
		if r.NightlyPriceCents == nil || *r.NightlyPriceCents <= 0 || r.Reason != nil || r.MinNights != nil {
			return domain.Rule{}, domain.ErrInvalidPayload
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	created, err := s.rules.CreateRule(ctx, r)
	if err != nil {
		return domain.Rule{}, err
	}
	if s.publisher != nil && r.Kind == domain.RuleBlocked {
		s.publisher.Invalidate(ctx, r.UnitID)
	}
	return created, nil
}

func (s *RuleService) Delete(ctx context.Context, unitID, id int64) error {
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Invalidate(ctx, unitID)
	}
	return nil
}

func (s *RuleService) List(ctx context.Context, unitID int64) ([]domain.Rule, error) {
	return s.rules.ListRules(ctx, unitID)
}
