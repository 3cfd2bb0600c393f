package date

import (
	"iter"
	"slices"
)

// point is one dated value of a History.
type point[T any] struct {
	day   Date
	value T
}

// History is a daily series in chronological order with at most one value
// per day. The zero value is an empty history.
type History[T float32 | float64 | string] struct {
	points []point[T]
}

// Len returns the number of days with a value.
func (h *History[T]) Len() int { return len(h.points) }

// search returns the position of day, and whether it holds a value.
func (h *History[T]) search(day Date) (int, bool) {
	return slices.BinarySearchFunc(h.points, day, func(p point[T], d Date) int { return p.day.Compare(d) })
}

// Append sets the value of day, replacing a previous one, and returns h.
// Appending in chronological order is linear.
func (h *History[T]) Append(on Date, v T) *History[T] {
	if n := len(h.points); n == 0 || on.After(h.points[n-1].day) {
		h.points = append(h.points, point[T]{on, v})
		return h
	}
	i, found := h.search(on)
	if found {
		h.points[i].value = v
		return h
	}
	h.points = slices.Insert(h.points, i, point[T]{on, v})
	return h
}

// Latest returns the most recent day and its value, zero values when empty.
func (h *History[T]) Latest() (Date, T) {
	if len(h.points) == 0 {
		var zero T
		return Date{}, zero
	}
	p := h.points[len(h.points)-1]
	return p.day, p.value
}

// Values iterates over the days and values, oldest first.
func (h *History[T]) Values() iter.Seq2[Date, T] {
	return func(yield func(Date, T) bool) {
		for _, p := range h.points {
			if !yield(p.day, p.value) {
				return
			}
		}
	}
}

// NewestFirst returns copies of the days and values, most recent first.
func (h *History[T]) NewestFirst() ([]Date, []T) {
	n := len(h.points)
	days, values := make([]Date, n), make([]T, n)
	for i, p := range h.points {
		days[n-1-i], values[n-1-i] = p.day, p.value
	}
	return days, values
}

// Get returns the value of day exactly.
func (h *History[T]) Get(day Date) (T, bool) {
	if i, found := h.search(day); found {
		return h.points[i].value, true
	}
	var zero T
	return zero, false
}

// ValueAsOf returns the value of day or, without one, of the closest
// earlier day. It is false when day is older than the whole history.
func (h *History[T]) ValueAsOf(day Date) (T, bool) {
	i, found := h.search(day)
	switch {
	case found:
		return h.points[i].value, true
	case i > 0:
		return h.points[i-1].value, true
	}
	var zero T
	return zero, false
}
