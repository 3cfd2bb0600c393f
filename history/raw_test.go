package history

import (
	"math"
	"testing"

	"github.com/etnz/memdb/date"
)

func TestParseRawQuotes(t *testing.T) {
	const raw = "D/C,20090102/16460,20090105/16826.5,20090106/16900"
	h, err := ParseRawQuotes(raw)
	if err != nil {
		t.Fatalf("ParseRawQuotes() unexpected error = %v", err)
	}
	if h.Len() != 3 {
		t.Fatalf("ParseRawQuotes() len = %d want 3", h.Len())
	}
	if v, _ := h.Get(date.New(2009, 1, 5)); v != 16826.5 {
		t.Errorf("ParseRawQuotes() 2009-01-05 = %v want 16826.5", v)
	}
	if got := FormatRawQuotes(h); got != raw {
		t.Errorf("FormatRawQuotes() = %q want %q", got, raw)
	}

	for _, bad := range []string{"X/Y,20090102/1", "D/C,20090102", "D/C,2009012/1", "D/C,20090102/abc"} {
		if _, err := ParseRawQuotes(bad); err == nil {
			t.Errorf("ParseRawQuotes(%q) want error", bad)
		}
	}
	if h, err := ParseRawQuotes(""); err != nil || h.Len() != 0 {
		t.Errorf("ParseRawQuotes(\"\") = %v, %v want empty history", h, err)
	}
}

func TestParseDeposits(t *testing.T) {
	got, err := ParseDeposits("20200410/50000,20200323/-1000000")
	if err != nil {
		t.Fatalf("ParseDeposits() unexpected error = %v", err)
	}
	if len(got) != 2 || got[0].Date != date.New(2020, 3, 23) || got[0].Amount != -1000000 {
		t.Errorf("ParseDeposits() = %v want sorted by date", got)
	}
	if s := FormatDeposits(got); s != "20200323/-1000000,20200410/50000" {
		t.Errorf("FormatDeposits() = %q", s)
	}
}

func Test_newestFirst(t *testing.T) {
	h := new(date.History[float64])
	h.Append(day(1), 1).Append(day(2), math.NaN()).Append(day(3), 3)
	s := newestFirst(h)
	if s.len() != 2 || s.dates[0] != day(3) || s.values[1] != 1 {
		t.Errorf("newestFirst() = %v", s)
	}
}
