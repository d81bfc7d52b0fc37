package waste

import (
	"math"
	"time"
)

// Statistics is a period summary built from terminal-state records.
// Rejected records are terminal but carry no handled waste, so they are
// excluded from the totals.
type Statistics struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	TotalKg      float64 `json:"total_waste_kg"`
	TotalRecords int     `json:"total_records"`
	TotalUsers   int     `json:"total_users"`

	ByType map[Type]float64 `json:"by_type_kg"`

	RecycledPercentage float64 `json:"recycled_percentage"`
	TotalPoints        int     `json:"total_points"`
}

// Aggregate folds completed records whose completion date falls inside
// [start, end] into a Statistics summary. It is a pure function; callers
// own persistence and caching.
func Aggregate(records []Record, start, end time.Time) Statistics {
	stats := Statistics{
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
		ByType:      make(map[Type]float64),
	}

	owners := make(map[string]struct{})
	var recycledKg float64
	for i := range records {
		rec := &records[i]
		if !rec.Completed() || rec.CompletionDate == nil {
			continue
		}
		done := rec.CompletionDate.UTC()
		if done.Before(stats.PeriodStart) || done.After(stats.PeriodEnd) {
			continue
		}

		stats.TotalKg += rec.Quantity
		stats.TotalRecords++
		stats.ByType[rec.Type] += rec.Quantity
		stats.TotalPoints += rec.PointsAwarded
		owners[rec.OwnerID] = struct{}{}
		if rec.Status == StatusRecycled {
			recycledKg += rec.Quantity
		}
	}
	stats.TotalUsers = len(owners)
	if stats.TotalKg > 0 {
		stats.RecycledPercentage = math.Round(recycledKg/stats.TotalKg*10000) / 100
	}
	return stats
}
