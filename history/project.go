package history

import (
	"math"

	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/timeseries"
)

// project aligns s on axis, both newest first. Dates of axis missing in s
// get NaN; nothing is forward filled. s dates must be a subset of axis.
func project(axis []date.Date, s series) []float32 {
	out := timeseries.NaNs(len(axis))
	j := 0
	for i, on := range axis {
		if j >= s.len() {
			break
		}
		if s.dates[j] == on {
			out[i] = float32(s.values[j])
			j++
		}
	}
	return out
}

// fromSnapshot extracts the non missing values of an asset from a previous
// snapshot, to keep them when a fresh fetch failed.
func fromSnapshot(prev *timeseries.Snapshot, values []float32) series {
	var s series
	for i, on := range prev.Dates() {
		if v := values[i]; !math.IsNaN(float64(v)) {
			s.dates = append(s.dates, on)
			s.values = append(s.values, float64(v))
		}
	}
	return s
}

// newestFirst converts a chronological history, dropping NaN values.
func newestFirst(h *date.History[float64]) series {
	dates, values := h.NewestFirst()
	s := series{dates: dates[:0], values: values[:0]}
	for i, on := range dates {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			continue
		}
		s.dates = append(s.dates, on)
		s.values = append(s.values, values[i])
	}
	return s
}
