package timeutil

import (
	"fmt"
	"time"
)

// SameDay reports whether two instants fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns the inclusive start and exclusive end of the calendar day
// containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// MonthBounds returns the inclusive start and exclusive end of the given
// month in loc.
func MonthBounds(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FormatDuration renders a duration as "4h 30m". Sub-hour spans drop the hour
// part, sub-minute spans render "0m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// DurationText describes the span between a first check-in and last check-out.
// A missing checkout is an open day ("Ongoing"); a checkout before the
// check-in indicates bad data and is reported, never coerced to zero.
func DurationText(firstIn, lastOut *time.Time) string {
	switch {
	case firstIn == nil:
		return "—"
	case lastOut == nil:
		return "Ongoing"
	case lastOut.Before(*firstIn):
		return "Error"
	default:
		return FormatDuration(lastOut.Sub(*firstIn))
	}
}
