package schedule

import (
	"errors"
	"strings"
	"time"

	appLog "bincal/internal/log"
	"bincal/internal/model"
)

// dateLayouts are tried in order. Layouts without a zone parse as UTC, which
// is harmless because only the wall-clock date is kept.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// ParseDate reads an ISO-8601 date or date-time and returns midnight of that
// calendar date in loc.
func ParseDate(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, errors.New("empty date")
	}
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, text)
		if err == nil {
			return model.DateOf(t, loc), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Normalize converts raw entries into (category, date) pairs, keeping only
// dates on or after today. Entries that cannot be read are logged and
// skipped; the number skipped is returned alongside the pairs.
func Normalize(entries []model.RawEntry, today time.Time, loc *time.Location) ([]model.Pair, int) {
	pairs := make([]model.Pair, 0, len(entries))
	dropped := 0

	for _, e := range entries {
		if e.Category == "" {
			perr := &ParseError{Category: e.Category, Text: e.DateText, Err: errors.New("missing collection type")}
			appLog.Warn("schedule entry skipped", "err", perr)
			dropped++
			continue
		}
		date, err := ParseDate(e.DateText, loc)
		if err != nil {
			perr := &ParseError{Category: e.Category, Text: e.DateText, Err: err}
			appLog.Warn("schedule entry skipped", "err", perr)
			dropped++
			continue
		}
		if date.Before(today) {
			continue
		}
		pairs = append(pairs, model.Pair{Category: e.Category, Date: date})
	}

	return pairs, dropped
}
