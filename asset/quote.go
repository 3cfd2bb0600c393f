package asset

import (
	"math"
	"sync/atomic"
	"time"
)

// Quote is a value and the time it was observed.
//
// A missing quote has a NaN Value and a zero Time.
type Quote struct {
	Value float64
	Time  time.Time
}

// NoQuote is the sentinel returned when nothing is known.
var NoQuote = Quote{Value: math.NaN()}

// Valid reports whether q holds an observed value.
func (q Quote) Valid() bool { return !math.IsNaN(q.Value) && !q.Time.IsZero() }

// Age returns how old q is at now.
func (q Quote) Age(now time.Time) time.Duration {
	if q.Time.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(q.Time)
}

// Cell holds the latest Quote of an asset field.
//
// Value and Time are published together, so a reader never sees a new value
// paired with an old timestamp. Cells are safe for concurrent use.
type Cell struct {
	p atomic.Pointer[Quote]
}

// Load returns the current quote, or NoQuote.
func (c *Cell) Load() Quote {
	if q := c.p.Load(); q != nil {
		return *q
	}
	return NoQuote
}

// Store publishes a new (value, time) pair.
func (c *Cell) Store(value float64, at time.Time) {
	c.p.Store(&Quote{Value: value, Time: at})
}

// StoreIfEmpty publishes q only when the cell never received a valid quote.
func (c *Cell) StoreIfEmpty(value float64, at time.Time) bool {
	for {
		old := c.p.Load()
		if old != nil && old.Valid() {
			return false
		}
		if c.p.CompareAndSwap(old, &Quote{Value: value, Time: at}) {
			return true
		}
	}
}
