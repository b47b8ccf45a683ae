package ical

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"hoostn/internal/domain"
)

// Feed parsing. The format is the calendar-interchange text used by every
// channel we import from: VEVENT blocks with a UID, all-day DTSTART/DTEND
// and a STATUS line. Unknown properties and non-VEVENT blocks are tolerated;
// structurally broken content fails the whole feed — no partial parse.

var ErrMalformedFeed = errors.New("malformed calendar feed")

// statusTable normalizes the platform-specific status vocabulary. Unknown
// but present entries default to confirmed: an entry we cannot classify must
// not be treated as free dates.
var statusTable = map[string]domain.EventStatus{
	"CONFIRMED":    domain.EventConfirmed,
	"BOOKED":       domain.EventConfirmed,
	"RESERVED":     domain.EventConfirmed,
	"UNAVAILABLE":  domain.EventConfirmed,
	"CANCELLED":    domain.EventCancelled,
	"CANCELED":     domain.EventCancelled,
	"TENTATIVE":    domain.EventTentative,
	"NEEDS-ACTION": domain.EventTentative,
}

// NormalizeStatus maps a raw feed status onto the three-valued enum.
func NormalizeStatus(raw string) domain.EventStatus {
	if s, ok := statusTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return domain.EventConfirmed
}

// Parse turns feed bytes into events keyed by UID, in feed order. A later
// VEVENT with a repeated UID replaces the earlier one.
func Parse(data []byte) ([]domain.ExternalEvent, error) {
	lines := unfold(string(data))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty feed", ErrMalformedFeed)
	}

	inCalendar := false
	sawCalendar := false
	var events []domain.ExternalEvent
	index := map[string]int{}

	for i := 0; i < len(lines); i++ {
		name, value := splitLine(lines[i])
		switch {
		case name == "BEGIN" && strings.EqualFold(value, "VCALENDAR"):
			inCalendar = true
			sawCalendar = true
		case name == "END" && strings.EqualFold(value, "VCALENDAR"):
			inCalendar = false
		case name == "BEGIN" && strings.EqualFold(value, "VEVENT"):
			if !inCalendar {
				return nil, fmt.Errorf("%w: VEVENT outside VCALENDAR", ErrMalformedFeed)
			}
			ev, next, err := parseEvent(lines, i+1)
			if err != nil {
				return nil, err
			}
			i = next
			if at, dup := index[ev.UID]; dup {
				events[at] = ev
			} else {
				index[ev.UID] = len(events)
				events = append(events, ev)
			}
		case name == "BEGIN":
			// unrelated block (VTIMEZONE, VALARM, ...): skip to its END
			next, err := skipBlock(lines, i+1, value)
			if err != nil {
				return nil, err
			}
			i = next
		}
	}
	if !sawCalendar {
		return nil, fmt.Errorf("%w: no VCALENDAR envelope", ErrMalformedFeed)
	}
	if inCalendar {
		return nil, fmt.Errorf("%w: unterminated VCALENDAR", ErrMalformedFeed)
	}
	return events, nil
}

func parseEvent(lines []string, start int) (domain.ExternalEvent, int, error) {
	var (
		ev       domain.ExternalEvent
		status   string
		sawStart bool
		sawEnd   bool
	)
	for i := start; i < len(lines); i++ {
		name, value := splitLine(lines[i])
		switch name {
		case "END":
			if !strings.EqualFold(value, "VEVENT") {
				return ev, 0, fmt.Errorf("%w: mismatched END:%s in VEVENT", ErrMalformedFeed, value)
			}
			if ev.UID == "" {
				return ev, 0, fmt.Errorf("%w: VEVENT without UID", ErrMalformedFeed)
			}
			if !sawStart {
				return ev, 0, fmt.Errorf("%w: VEVENT %s without DTSTART", ErrMalformedFeed, ev.UID)
			}
			if !sawEnd {
				ev.End = ev.Start.AddDate(0, 0, 1) // all-day single night
			}
			if !ev.Start.Before(ev.End) {
				return ev, 0, fmt.Errorf("%w: VEVENT %s has empty or inverted range", ErrMalformedFeed, ev.UID)
			}
			ev.Status = NormalizeStatus(status)
			return ev, i, nil
		case "BEGIN":
			next, err := skipBlock(lines, i+1, value)
			if err != nil {
				return ev, 0, err
			}
			i = next
		case "UID":
			ev.UID = value
		case "DTSTART":
			d, err := parseDateValue(value)
			if err != nil {
				return ev, 0, fmt.Errorf("%w: DTSTART %q", ErrMalformedFeed, value)
			}
			ev.Start, sawStart = d, true
		case "DTEND":
			d, err := parseDateValue(value)
			if err != nil {
				return ev, 0, fmt.Errorf("%w: DTEND %q", ErrMalformedFeed, value)
			}
			ev.End, sawEnd = d, true
		case "STATUS":
			status = value
		case "SUMMARY":
			ev.Summary = unescape(value)
		case "X-PRICE-CENTS":
			if cents, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				ev.PriceCents = &cents
			}
		case "X-PRICE":
			if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				cents := int64(math.Round(f * 100))
				ev.PriceCents = &cents
			}
		}
	}
	return ev, 0, fmt.Errorf("%w: unterminated VEVENT", ErrMalformedFeed)
}

func skipBlock(lines []string, start int, kind string) (int, error) {
	depth := 1
	for i := start; i < len(lines); i++ {
		name, value := splitLine(lines[i])
		if name == "BEGIN" {
			depth++
		}
		if name == "END" {
			depth--
			if depth == 0 {
				if !strings.EqualFold(value, kind) {
					return 0, fmt.Errorf("%w: mismatched END:%s in %s", ErrMalformedFeed, value, kind)
				}
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unterminated %s", ErrMalformedFeed, kind)
}

// unfold joins continuation lines (leading space or tab) per the folding
// convention, tolerating both CRLF and bare LF.
func unfold(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var out []string
	for _, l := range raw {
		if l == "" {
			continue
		}
		if (l[0] == ' ' || l[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += l[1:]
			continue
		}
		out = append(out, l)
	}
	return out
}

// splitLine yields the upper-cased property name (parameters stripped) and
// the raw value.
func splitLine(l string) (name, value string) {
	colon := strings.IndexByte(l, ':')
	if colon < 0 {
		return strings.ToUpper(strings.TrimSpace(l)), ""
	}
	name = l[:colon]
	value = l[colon+1:]
	if semi := strings.IndexByte(name, ';'); semi >= 0 {
		name = name[:semi]
	}
	return strings.ToUpper(strings.TrimSpace(name)), strings.TrimSpace(value)
}

// parseDateValue accepts the all-day date form (20250801) and the datetime
// forms (20250801T140000, 20250801T140000Z), truncating the latter to their
// date — feeds carry all-day semantics for stays.
func parseDateValue(v string) (t time.Time, err error) {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, 'T'); i >= 0 {
		v = v[:i]
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}

func unescape(v string) string {
	r := strings.NewReplacer(`\n`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(v)
}
