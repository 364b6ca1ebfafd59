// Package events projects a schedule Aggregate into calendar events. Every
// function here is a pure read over the aggregate; absence is an ordinary
// result, never an error.
package events

import (
	"time"

	"github.com/google/uuid"

	"bincal/internal/model"
)

// uidNamespace scopes the name-based event UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://bincal/collection-events"))

// NextEvent returns the earliest upcoming collection for category. ok is
// false when the aggregate is nil or the category has no dates.
func NextEvent(agg *model.Aggregate, category model.CategoryID) (model.CollectionEvent, bool) {
	if agg == nil {
		return model.CollectionEvent{}, false
	}
	dates := agg.ByCategory[category]
	if len(dates) == 0 {
		return model.CollectionEvent{}, false
	}
	return newEvent(agg.Household, category, dates[0]), true
}

// EventsInRange returns the events for category whose date lies within
// [start, end], inclusive, in ascending order. Bounds are reduced to their
// calendar date first, so the time of day they carry is ignored.
func EventsInRange(agg *model.Aggregate, category model.CategoryID, start, end time.Time) []model.CollectionEvent {
	if agg == nil {
		return []model.CollectionEvent{}
	}
	dates := agg.ByCategory[category]
	out := make([]model.CollectionEvent, 0, len(dates))
	if len(dates) == 0 {
		return out
	}

	loc := dates[0].Location()
	from := model.DateOf(start, loc)
	to := model.DateOf(end, loc)

	for _, d := range dates {
		if d.Before(from) {
			continue
		}
		if d.After(to) {
			break
		}
		out = append(out, newEvent(agg.Household, category, d))
	}
	return out
}

// AllEvents returns every upcoming event for category.
func AllEvents(agg *model.Aggregate, category model.CategoryID) []model.CollectionEvent {
	if agg == nil {
		return []model.CollectionEvent{}
	}
	dates := agg.ByCategory[category]
	out := make([]model.CollectionEvent, 0, len(dates))
	for _, d := range dates {
		out = append(out, newEvent(agg.Household, category, d))
	}
	return out
}

func newEvent(household model.HouseholdID, category model.CategoryID, date time.Time) model.CollectionEvent {
	start := model.DateOf(date, date.Location())
	return model.CollectionEvent{
		Household:   household,
		Category:    category,
		UID:         EventUID(household, category, start),
		Summary:     string(category),
		Description: model.EventDescription,
		Start:       start,
		End:         model.EndOfDay(start),
	}
}

// EventUID derives a stable identifier for one collection date. Duplicate
// upstream entries for the same date share a UID.
func EventUID(household model.HouseholdID, category model.CategoryID, date time.Time) string {
	name := string(household) + "/" + string(category) + "/" + date.Format("2006-01-02")
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}
