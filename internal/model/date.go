package model

import "time"

// DateOf returns midnight in loc of t's own calendar date. t's zone is not
// converted first, so 2025-01-15T23:30:00+09:00 stays on the 15th.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Today returns midnight of now's date as observed in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc), loc)
}

// EndOfDay returns 23:59:59.999999 on date's calendar day.
func EndOfDay(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999000, date.Location())
}
