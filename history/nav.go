package history

import (
	"github.com/etnz/memdb/date"
)

// adjustNav removes the effect of external cash flows from raw NAV values.
//
// Walking newest to oldest with a cumulative multiplier M starting at 1, each
// adjusted value is raw*M. On a date whose deposits sum to D, once that date
// is adjusted, M is multiplied by raw/(raw-D) and applies to older dates only.
// Several flows on the same day are summed before one multiplier is computed.
// The newest adjusted value therefore equals the newest raw NAV.
//
// It returns the adjusted values and the number of deposits that matched no
// NAV date.
func adjustNav(s series, deposits []Deposit) ([]float64, int) {
	sums := make(map[date.Date]float64, len(deposits))
	for _, d := range deposits {
		sums[d.Date] += d.Amount
	}
	adjusted := make([]float64, s.len())
	m := 1.0
	matched := 0
	for i, on := range s.dates {
		raw := s.values[i]
		adjusted[i] = raw * m
		d, ok := sums[on]
		if !ok {
			continue
		}
		matched++
		if actual := raw - d; actual != 0 && d != 0 {
			m *= (actual + d) / actual
		}
	}
	return adjusted, len(sums) - matched
}

// aggregateRaw sums raw NAVs per date over the union of their dates. A date
// missing in one account contributes only the accounts having it.
func aggregateRaw(children []series) series {
	axes := make([][]date.Date, len(children))
	for i, c := range children {
		axes[i] = c.dates
	}
	dates := date.UnionNewestFirst(axes...)
	values := make([]float64, len(dates))
	for _, c := range children {
		j := 0
		for i, on := range dates {
			if j < c.len() && c.dates[j] == on {
				values[i] += c.values[j]
				j++
			}
		}
	}
	return series{dates: dates, values: values}
}
