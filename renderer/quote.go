package renderer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
)

// QuoteMarkdown renders the cached real-time values of a.
func QuoteMarkdown(a asset.Asset, last, prior asset.Quote, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.Ticker())
	if a.Name() != "" {
		fmt.Fprintf(&b, "%s\n\n", a.Name())
	}
	fmt.Fprintln(&b, "| | Value | As of | Age |")
	fmt.Fprintln(&b, "|:---|---:|:---|---:|")
	row := func(label string, q asset.Quote) {
		if !q.Valid() {
			fmt.Fprintf(&b, "| %s | n/a | | |\n", label)
			return
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %v |\n", label, formatAmount(q.Value, a.Currency()), formatTime(q.Time), q.Age(now).Round(time.Second))
	}
	row("Last", last)
	row("Prior close", prior)
	if last.Valid() && prior.Valid() && prior.Value != 0 {
		fmt.Fprintf(&b, "\nChange: %+.2f%%\n", (last.Value/prior.Value-1)*100)
	}
	return b.String()
}

// HistoryMarkdown renders the daily closes of ticker, newest first.
func HistoryMarkdown(ticker, currency string, dates []date.Date, closes []float32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s daily closes\n\n", ticker)
	if len(dates) == 0 {
		fmt.Fprintln(&b, "No history.")
		return b.String()
	}
	fmt.Fprintln(&b, "| Date | Close |")
	fmt.Fprintln(&b, "|:---|---:|")
	for i, d := range dates {
		if i >= len(closes) {
			break
		}
		v := float64(closes[i])
		if math.IsNaN(v) {
			fmt.Fprintf(&b, "| %v | |\n", d)
			continue
		}
		fmt.Fprintf(&b, "| %v | %s |\n", d, formatAmount(v, currency))
	}
	return b.String()
}

// formatAmount displays v in currency, falling back to a plain number for
// codes unknown to go-money.
func formatAmount(v float64, currency string) string {
	if money.GetCurrency(currency) == nil {
		return fmt.Sprintf("%.2f %s", v, currency)
	}
	return money.NewFromFloat(v, currency).Display()
}
