package history

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/etnz/memdb/date"
)

// rawHeader announces Date/Close pairs.
const rawHeader = "D/C"

// ParseRawQuotes decodes "D/C,20090102/16460,20090105/16826,..." into a
// chronological history.
func ParseRawQuotes(raw string) (*date.History[float64], error) {
	h := new(date.History[float64])
	if raw == "" {
		return h, nil
	}
	header, body, _ := strings.Cut(raw, ",")
	if header != rawHeader {
		return nil, fmt.Errorf("unsupported raw quote format %q want %q", header, rawHeader)
	}
	err := parsePairs(body, func(on date.Date, v float64) { h.Append(on, v) })
	return h, err
}

// FormatRawQuotes is the reverse of ParseRawQuotes.
func FormatRawQuotes(h *date.History[float64]) string {
	var b strings.Builder
	b.WriteString(rawHeader)
	for on, v := range h.Values() {
		b.WriteByte(',')
		b.WriteString(on.Compact())
		b.WriteByte('/')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return b.String()
}

// ParseDeposits decodes "20200323/-1000000,20200410/50000" in date order.
func ParseDeposits(raw string) ([]Deposit, error) {
	var deposits []Deposit
	err := parsePairs(raw, func(on date.Date, v float64) {
		deposits = append(deposits, Deposit{Date: on, Amount: v})
	})
	slices.SortStableFunc(deposits, func(a, b Deposit) int { return a.Date.Compare(b.Date) })
	return deposits, err
}

// FormatDeposits is the reverse of ParseDeposits.
func FormatDeposits(deposits []Deposit) string {
	parts := make([]string, 0, len(deposits))
	for _, d := range deposits {
		parts = append(parts, d.Date.Compact()+"/"+strconv.FormatFloat(d.Amount, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

func parsePairs(body string, yield func(date.Date, float64)) error {
	for _, pair := range strings.Split(body, ",") {
		if pair == "" {
			continue
		}
		ds, vs, ok := strings.Cut(pair, "/")
		if !ok {
			return fmt.Errorf("invalid pair %q want format \"YYYYMMDD/value\"", pair)
		}
		on, err := date.ParseCompact(ds)
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(vs, 64)
		if err != nil {
			return fmt.Errorf("invalid value in pair %q: %w", pair, err)
		}
		yield(on, v)
	}
	return nil
}
