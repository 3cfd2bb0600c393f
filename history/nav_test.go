package history

import (
	"math"
	"testing"

	"github.com/etnz/memdb/date"
)

func day(n int) date.Date { return date.New(2024, 1, n) }

func Test_adjustNav(t *testing.T) {
	// oldest to newest 9, 9, 10, 9, 11 with a withdrawal of 1 on the 4th point
	s := series{
		dates:  []date.Date{day(5), day(4), day(3), day(2), day(1)},
		values: []float64{11, 9, 10, 9, 9},
	}
	adjusted, unmatched := adjustNav(s, []Deposit{{Date: day(4), Amount: -1}})
	if unmatched != 0 {
		t.Errorf("adjustNav() unmatched = %d want 0", unmatched)
	}
	if adjusted[0] != 11 {
		t.Errorf("adjustNav() newest = %v want the raw value 11", adjusted[0])
	}
	// without the withdrawal the account would have stayed at 10
	if change := adjusted[1]/adjusted[2] - 1; math.Abs(change) > 1e-9 {
		t.Errorf("adjustNav() change over the withdrawal = %v want 0", change)
	}
	want := []float64{11, 9, 9, 8.1, 8.1}
	for i := range want {
		if math.Abs(adjusted[i]-want[i]) > 1e-9 {
			t.Errorf("adjustNav()[%d] = %v want %v", i, adjusted[i], want[i])
		}
	}
}

func Test_adjustNav_sameDay(t *testing.T) {
	s := series{dates: []date.Date{day(3), day(2), day(1)}, values: []float64{200, 200, 100}}
	split, _ := adjustNav(s, []Deposit{{Date: day(2), Amount: 60}, {Date: day(2), Amount: 40}})
	single, _ := adjustNav(s, []Deposit{{Date: day(2), Amount: 100}})
	for i := range split {
		if split[i] != single[i] {
			t.Errorf("flows of the same day must be summed: %v != %v", split, single)
			break
		}
	}
	if split[2] != 200 {
		t.Errorf("adjustNav() oldest = %v want 200", split[2])
	}
}

func Test_adjustNav_unmatched(t *testing.T) {
	s := series{dates: []date.Date{day(3), day(1)}, values: []float64{10, 10}}
	adjusted, unmatched := adjustNav(s, []Deposit{{Date: day(2), Amount: 5}})
	if unmatched != 1 {
		t.Errorf("adjustNav() unmatched = %d want 1", unmatched)
	}
	if adjusted[1] != 10 {
		t.Errorf("adjustNav() applied an unmatched deposit: %v", adjusted)
	}
}

func Test_aggregateRaw(t *testing.T) {
	a := series{dates: []date.Date{day(4), day(2), day(1)}, values: []float64{40, 20, 10}}
	b := series{dates: []date.Date{day(4), day(3), day(1)}, values: []float64{4, 3, 1}}
	got := aggregateRaw([]series{a, b})

	wantDates := []date.Date{day(4), day(3), day(2), day(1)}
	wantValues := []float64{44, 3, 20, 11}
	if got.len() != len(wantDates) {
		t.Fatalf("aggregateRaw() dates = %v want %v", got.dates, wantDates)
	}
	for i := range wantDates {
		if got.dates[i] != wantDates[i] || got.values[i] != wantValues[i] {
			t.Errorf("aggregateRaw()[%d] = %v %v want %v %v", i, got.dates[i], got.values[i], wantDates[i], wantValues[i])
		}
	}
}

func Test_project(t *testing.T) {
	axis := []date.Date{day(4), day(3), day(2), day(1)}
	got := project(axis, series{dates: []date.Date{day(4), day(2)}, values: []float64{4, 2}})
	if got[0] != 4 || got[2] != 2 {
		t.Errorf("project() = %v", got)
	}
	if !math.IsNaN(float64(got[1])) || !math.IsNaN(float64(got[3])) {
		t.Errorf("project() must not fill missing days: %v", got)
	}
}
