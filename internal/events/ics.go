package events

import (
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"bincal/internal/model"
)

// Feed describes one iCalendar subscription feed.
type Feed struct {
	Name     string
	Timezone string
	Events   []model.CollectionEvent

	// Stamp is written as DTSTAMP on every event; zero means now.
	Stamp time.Time
	// RefreshInterval hints subscribers how often to poll; zero omits it.
	RefreshInterval time.Duration
}

// WriteICS serializes feed as an iCalendar document of all-day events.
// Repeated events for the same date collapse into one VEVENT since they
// share a UID.
func WriteICS(w io.Writer, feed Feed) error {
	cal := ical.NewCalendarFor("bincal")
	cal.SetMethod(ical.MethodPublish)
	if feed.Name != "" {
		cal.SetName(feed.Name)
	}
	if feed.Timezone != "" {
		cal.SetXWRTimezone(feed.Timezone)
	}
	if feed.RefreshInterval > 0 {
		ttl := isoDuration(feed.RefreshInterval)
		// The property name already carries VALUE=DURATION.
		cal.SetRefreshInterval(ttl)
		cal.SetXPublishedTTL(ttl)
	}

	stamp := feed.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	seen := make(map[string]struct{}, len(feed.Events))
	for _, ev := range feed.Events {
		if _, dup := seen[ev.UID]; dup {
			continue
		}
		seen[ev.UID] = struct{}{}

		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(stamp)
		ve.SetAllDayStartAt(ev.Start)
		// DTEND is exclusive for all-day events.
		ve.SetAllDayEndAt(ev.Start.AddDate(0, 0, 1))
		ve.SetSummary(ev.Summary)
		ve.SetDescription(ev.Description)
	}

	return cal.SerializeTo(w, ical.WithNewLineWindows)
}

// isoDuration renders d as an RFC 5545 duration in whole minutes (PT60M).
func isoDuration(d time.Duration) string {
	minutes := int(d / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return "PT" + strconv.Itoa(minutes) + "M"
}
