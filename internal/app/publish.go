package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hoostn/internal/domain"
)

const icsDateFormat = "20060102"

// CalendarPublisher republishes a unit's occupied dates as a read-only
// iCalendar feed for channels that import rather than push. The rendered
// export is cached with a TTL and invalidated by any write that changes the
// unit's calendar; availability verdicts themselves are never cached.
type CalendarPublisher struct {
	res   domain.ReservationRepository
	rules domain.RuleRepository
	cache domain.Cache
	ttl   time.Duration
}

func NewCalendarPublisher(res domain.ReservationRepository, rules domain.RuleRepository, cache domain.Cache, ttl time.Duration) *CalendarPublisher {
	return &CalendarPublisher{res: res, rules: rules, cache: cache, ttl: ttl}
}

func (p *CalendarPublisher) Export(ctx context.Context, unitID int64) ([]byte, error) {
	key := exportKey(unitID)
	if p.cache != nil {
		var cached string
		if ok, _ := p.cache.Get(ctx, key, &cached); ok {
			return []byte(cached), nil
		}
	}

	reservations, err := p.res.ListReservations(ctx, unitID)
	if err != nil {
		return nil, err
	}
	rules, err := p.rules.ListRules(ctx, unitID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	line := func(s string) { b.WriteString(s); b.WriteString("\r\n") }
	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:-//hoostn//availability//EN")
	line("CALSCALE:GREGORIAN")
	for _, r := range reservations {
		if !r.Occupies() {
			continue
		}
		line("BEGIN:VEVENT")
		line(fmt.Sprintf("UID:reservation-%d@hoostn", r.ID))
		line("DTSTART;VALUE=DATE:" + r.CheckIn.Format(icsDateFormat))
		line("DTEND;VALUE=DATE:" + r.CheckOut.Format(icsDateFormat))
		line("SUMMARY:Reserved")
		line("STATUS:CONFIRMED")
		line("END:VEVENT")
	}
	for _, r := range rules {
		if r.Kind != domain.RuleBlocked {
			continue
		}
		line("BEGIN:VEVENT")
		line(fmt.Sprintf("UID:rule-%d@hoostn", r.ID))
		line("DTSTART;VALUE=DATE:" + r.StartDate.Format(icsDateFormat))
		// rule intervals are closed; DTEND is exclusive
		line("DTEND;VALUE=DATE:" + r.EndDate.AddDate(0, 0, 1).Format(icsDateFormat))
		line("SUMMARY:Not available")
		line("STATUS:CONFIRMED")
		line("END:VEVENT")
	}
	line("END:VCALENDAR")

	out := b.String()
	if p.cache != nil {
		_ = p.cache.Set(ctx, key, out, int(p.ttl.Seconds()))
	}
	return []byte(out), nil
}

// Invalidate drops the cached export after a calendar-changing write.
func (p *CalendarPublisher) Invalidate(ctx context.Context, unitID int64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Del(ctx, exportKey(unitID)); err != nil {
		log.Warn().Err(err).Int64("unit", unitID).Msg("export cache invalidation failed")
	}
}

func exportKey(unitID int64) string { return fmt.Sprintf("ics:unit:%d", unitID) }
