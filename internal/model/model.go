package model

import (
	"encoding/json"
	"slices"
	"time"
)

// HouseholdID identifies the polling target (the upstream UPRN). It is fixed
// at configuration time.
type HouseholdID string

// CategoryID labels a collection stream such as "General" or "Recycling".
// Any label returned by the upstream source is valid.
type CategoryID string

// Categories offered by the upstream council. Used for config defaults only.
const (
	CategoryGeneral     CategoryID = "General"
	CategoryRecycling   CategoryID = "Recycling"
	CategoryGardenWaste CategoryID = "GardenWaste"
)

// EventDescription is the fixed description attached to every collection event.
const EventDescription = "Bin collection"

// RawEntry is a single upstream schedule record before date parsing.
type RawEntry struct {
	Category CategoryID
	DateText string
}

// RawPayload is what the fetcher hands back: the decoded entries plus the
// verbatim response body, kept for diagnostics.
type RawPayload struct {
	Entries []RawEntry
	Body    json.RawMessage
}

// Pair is a normalized (category, date) tuple. Date is midnight in the
// configured timezone.
type Pair struct {
	Category CategoryID
	Date     time.Time
}

// Aggregate is the grouped, forward-filtered snapshot of upcoming collection
// dates for one household. It is never mutated once built; a refresh replaces
// it wholesale.
type Aggregate struct {
	Household HouseholdID
	Raw       json.RawMessage

	// ByCategory holds ascending date sequences. Categories with no upcoming
	// dates are absent. Readers must not modify the slices.
	ByCategory map[CategoryID][]time.Time

	// Today is the reference date used to drop past entries.
	Today     time.Time
	FetchedAt time.Time
}

// Dates returns a copy of the ascending date sequence for category, or nil.
func (a *Aggregate) Dates(category CategoryID) []time.Time {
	if a == nil {
		return nil
	}
	return slices.Clone(a.ByCategory[category])
}

// Categories returns the category labels present, sorted.
func (a *Aggregate) Categories() []CategoryID {
	if a == nil {
		return nil
	}
	out := make([]CategoryID, 0, len(a.ByCategory))
	for c := range a.ByCategory {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Len returns the total number of upcoming dates across all categories.
func (a *Aggregate) Len() int {
	if a == nil {
		return 0
	}
	n := 0
	for _, dates := range a.ByCategory {
		n += len(dates)
	}
	return n
}

// CollectionEvent is a single all-day calendar event derived from an
// Aggregate. It is recomputed on demand and never stored.
type CollectionEvent struct {
	Household HouseholdID
	Category  CategoryID

	// UID is stable for a given (household, category, date).
	UID string

	Summary     string
	Description string

	// Start is 00:00:00 and End is 23:59:59.999999 of the collection date.
	Start time.Time
	End   time.Time
}
