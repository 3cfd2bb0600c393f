package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
)

// ParseSpan returns the first day of history described by span:
// "Date:2019-01-02" is taken as is, "3y" and "2m" count back from today.
// Relative spans go back to the previous Friday on weekends, then one more
// day in case that Friday was a holiday. An empty span gives asset.DefaultHistoryStart.
func ParseSpan(span string, today date.Date) (date.Date, error) {
	var start date.Date
	switch {
	case span == "":
		return asset.DefaultHistoryStart, nil
	case strings.HasPrefix(span, "Date:"):
		return date.Parse(strings.TrimPrefix(span, "Date:"))
	case strings.HasSuffix(span, "y"):
		n, err := strconv.Atoi(strings.TrimSuffix(span, "y"))
		if err != nil {
			return date.Date{}, fmt.Errorf("invalid history span %q: %w", span, err)
		}
		start = today.AddMonths(-12 * n)
	case strings.HasSuffix(span, "m"):
		n, err := strconv.Atoi(strings.TrimSuffix(span, "m"))
		if err != nil {
			return date.Date{}, fmt.Errorf("invalid history span %q: %w", span, err)
		}
		start = today.AddMonths(-n)
	default:
		return date.Date{}, fmt.Errorf("invalid history span %q want \"Date:YYYY-MM-DD\", \"<n>y\" or \"<n>m\"", span)
	}
	switch start.Weekday() {
	case time.Sunday:
		start = start.Add(-2)
	case time.Saturday:
		start = start.Add(-1)
	}
	return start.Add(-1), nil
}
