// Package timeseries stores the daily history of every asset over one date
// axis shared by the whole generation.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"unsafe"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
)

// TickType selects one of the value arrays of an asset.
type TickType uint8

const (
	// AdjClose is the split (and for NAVs deposit) adjusted close.
	AdjClose TickType = iota
	// RawClose is the value as stored, before any adjustment. Only NAVs keep it.
	RawClose
)

func (t TickType) String() string {
	switch t {
	case AdjClose:
		return "AdjClose"
	case RawClose:
		return "RawClose"
	}
	return fmt.Sprintf("TickType(%d)", uint8(t))
}

// Series holds the value arrays of one asset, aligned on the snapshot dates.
// Missing days are NaN.
type Series map[TickType][]float32

// Snapshot is one immutable generation of daily history.
//
// Dates are strictly decreasing (newest first) and every array of every
// Series has exactly len(Dates) elements. A Snapshot is never modified once
// built, so it can be shared by any number of readers.
type Snapshot struct {
	dates []date.Date
	data  map[asset.ID]Series
}

// Empty is the snapshot published before the first history is built.
var Empty = &Snapshot{data: map[asset.ID]Series{}}

// ErrInvalidAxis is returned by New when the invariants do not hold.
var ErrInvalidAxis = errors.New("invalid time series axis")

// New validates and wraps dates and data into a Snapshot. The caller must not
// modify them afterwards.
func New(dates []date.Date, data map[asset.ID]Series) (*Snapshot, error) {
	for i := 1; i < len(dates); i++ {
		if !dates[i].Before(dates[i-1]) {
			return nil, fmt.Errorf("%w: dates[%d]=%v is not before dates[%d]=%v", ErrInvalidAxis, i, dates[i], i-1, dates[i-1])
		}
	}
	for id, series := range data {
		for tick, values := range series {
			if len(values) != len(dates) {
				return nil, fmt.Errorf("%w: %v %v has %d values for %d dates", ErrInvalidAxis, id, tick, len(values), len(dates))
			}
		}
	}
	if data == nil {
		data = map[asset.ID]Series{}
	}
	return &Snapshot{dates: dates, data: data}, nil
}

// Dates returns the newest-first axis. The slice must not be modified.
func (s *Snapshot) Dates() []date.Date { return s.dates }

// Len returns the number of dates.
func (s *Snapshot) Len() int { return len(s.dates) }

// NumAssets returns the number of assets having a series.
func (s *Snapshot) NumAssets() int { return len(s.data) }

// Range returns the newest and the oldest date, or zero dates when empty.
func (s *Snapshot) Range() (newest, oldest date.Date) {
	if len(s.dates) == 0 {
		return date.Date{}, date.Date{}
	}
	return s.dates[0], s.dates[len(s.dates)-1]
}

// search returns the index of the first date on or before d, or len(dates).
func (s *Snapshot) search(d date.Date) int {
	return sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].After(d) })
}

// IndexOfExact returns the index of d, or -1 when d is not a trading day of the axis.
func (s *Snapshot) IndexOfExact(d date.Date) int {
	if i := s.search(d); i < len(s.dates) && s.dates[i] == d {
		return i
	}
	return -1
}

// IndexOfOnOrBefore returns the index of d or, when d is not on the axis, of
// the closest older trading day. It returns -1 when d is older than the axis.
func (s *Snapshot) IndexOfOnOrBefore(d date.Date) int {
	if i := s.search(d); i < len(s.dates) {
		return i
	}
	return -1
}

// Values returns the tick array of asset id. The slice must not be modified.
func (s *Snapshot) Values(id asset.ID, tick TickType) ([]float32, bool) {
	v, ok := s.data[id][tick]
	return v, ok
}

// Has reports whether the snapshot holds any series for id.
func (s *Snapshot) Has(id asset.ID) bool {
	_, ok := s.data[id]
	return ok
}

// LastAsOf returns the most recent non missing value at or before d, and its date.
func (s *Snapshot) LastAsOf(id asset.ID, tick TickType, d date.Date) (float64, date.Date, bool) {
	values, ok := s.data[id][tick]
	if !ok {
		return math.NaN(), date.Date{}, false
	}
	start := s.IndexOfOnOrBefore(d)
	if start < 0 {
		return math.NaN(), date.Date{}, false
	}
	for i := start; i < len(values); i++ {
		if v := values[i]; !math.IsNaN(float64(v)) {
			return float64(v), s.dates[i], true
		}
	}
	return math.NaN(), date.Date{}, false
}

// MemUsed estimates the bytes held by the arrays. It is meant for capacity
// planning only.
func (s *Snapshot) MemUsed() int64 {
	n := int64(len(s.dates)) * int64(unsafe.Sizeof(date.Date{}))
	for _, series := range s.data {
		for _, values := range series {
			n += int64(len(values)) * int64(unsafe.Sizeof(float32(0)))
		}
	}
	return n
}

// NaNs returns a new array of n missing values.
func NaNs(n int) []float32 {
	v := make([]float32, n)
	nan := float32(math.NaN())
	for i := range v {
		v[i] = nan
	}
	return v
}
