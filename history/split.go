package history

import (
	"slices"

	"github.com/etnz/memdb/date"
)

// applyMissingSplits corrects closes for the overrides the provider does not
// know about.
//
// closes are aligned with the newest-first dates and modified in place. Every
// close strictly before an override date is multiplied by Before/After; the
// close of the effective date itself is never touched. Overrides after today
// or present in known are ignored. It returns the splits applied.
func applyMissingSplits(dates []date.Date, closes []float64, overrides, known []Split, today date.Date) ([]Split, error) {
	knownDates := make(map[date.Date]bool, len(known))
	for _, s := range known {
		knownDates[s.Date] = true
	}
	pending := slices.Clone(overrides)
	// newest first so that older corrections compose on top of the newer ones
	slices.SortFunc(pending, func(a, b Split) int { return b.Date.Compare(a.Date) })

	var applied []Split
	for _, s := range pending {
		if s.Date.After(today) || knownDates[s.Date] {
			continue
		}
		m, err := s.Multiplier()
		if err != nil {
			return applied, err
		}
		// dates are newest first: the first date before the split starts the tail
		for i, on := range dates {
			if on.Before(s.Date) {
				for j := i; j < len(closes); j++ {
					closes[j] *= m
				}
				break
			}
		}
		applied = append(applied, s)
	}
	return applied, nil
}

// mergeSplits adds the splits of extra not already present, by date, in base.
func mergeSplits(base, extra []Split) []Split {
	merged := slices.Clone(base)
	for _, s := range extra {
		if !slices.ContainsFunc(merged, func(m Split) bool { return m.Date == s.Date }) {
			merged = append(merged, s)
		}
	}
	return merged
}
