package domain

import "time"

// DateFormat is the wire format for all calendar dates. Dates are stored at
// UTC midnight; stays and external events are half-open [check_in, check_out).
const DateFormat = "2006-01-02"

// ParseDate parses an ISO YYYY-MM-DD date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Overlaps is the half-open interval intersection test: [a,b) and [c,d)
// intersect iff a < d && c < b. A checkout equal to the next check-in is not
// an overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Nights counts the nights in [checkIn, checkOut). Non-positive for inverted
// or empty ranges.
func Nights(checkIn, checkOut time.Time) int {
	return int(checkOut.Sub(checkIn).Hours() / 24)
}

// EachNight calls fn for every night d in [checkIn, checkOut).
func EachNight(checkIn, checkOut time.Time, fn func(d time.Time)) {
	for d := checkIn; d.Before(checkOut); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}
