// Package timeframe tracks which data windows of a permission have already
// been retrieved from the administrator.
package timeframe

import (
	"sort"
	"time"
)

// MeterReadingTimeframe is one merged, non-overlapping window of received
// meter data. It is recomputed from the DataReceived history, never patched
// in place.
type MeterReadingTimeframe struct {
	PermissionID string    `json:"permissionId"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Merge collapses the input into the minimal covering set: overlapping
// windows and windows exactly one day apart join into one. The result is
// idempotent and invariant to input order.
func Merge(in []MeterReadingTimeframe) []MeterReadingTimeframe {
	if len(in) == 0 {
		return nil
	}

	sorted := append([]MeterReadingTimeframe{}, in...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []MeterReadingTimeframe{sorted[0]}
	for _, next := range sorted[1:] {
		current := &merged[len(merged)-1]
		// Adjacent counts as continuous: readings for Jan 10 and Jan 11
		// leave no gap between them.
		if !next.Start.After(current.End.AddDate(0, 0, 1)) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}
