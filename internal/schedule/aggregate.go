package schedule

import (
	"encoding/json"
	"slices"
	"time"

	"bincal/internal/model"
)

// Aggregate groups pairs by category into ascending date sequences. Repeated
// dates are kept; pairs before today are ignored, and a category without any
// remaining date is left out of the map.
func Aggregate(household model.HouseholdID, raw json.RawMessage, pairs []model.Pair, today, fetchedAt time.Time) *model.Aggregate {
	byCategory := make(map[model.CategoryID][]time.Time)
	for _, p := range pairs {
		if p.Date.Before(today) {
			continue
		}
		byCategory[p.Category] = append(byCategory[p.Category], p.Date)
	}

	for _, dates := range byCategory {
		slices.SortStableFunc(dates, func(a, b time.Time) int {
			return a.Compare(b)
		})
	}

	return &model.Aggregate{
		Household:  household,
		Raw:        raw,
		ByCategory: byCategory,
		Today:      today,
		FetchedAt:  fetchedAt,
	}
}
