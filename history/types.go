// Package history builds the daily history snapshot of a registry: it fetches
// every asset history, corrects missing splits, adjusts broker NAVs for cash
// flows, synthesizes aggregated NAVs and aligns everything on one date axis.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/shopspring/decimal"
)

// ErrNoData is returned when a build produced no series at all. The previous
// snapshot must then be kept.
var ErrNoData = errors.New("no historical data available")

// Split is a stock split effective at the opening of Date: Before shares
// became After shares, e.g. Before 1 After 2 for a 2:1 split.
type Split struct {
	Date   date.Date       `json:"Date"`
	Before decimal.Decimal `json:"Before"`
	After  decimal.Decimal `json:"After"`
}

// NewSplit is a convenience to create a split from integer ratios.
func NewSplit(on date.Date, before, after int64) Split {
	return Split{Date: on, Before: decimal.NewFromInt(before), After: decimal.NewFromInt(after)}
}

// Multiplier is the factor to apply to closes before the split date: Before/After.
func (s Split) Multiplier() (float64, error) {
	if !s.Before.IsPositive() || !s.After.IsPositive() {
		return 0, fmt.Errorf("invalid split %v %v:%v", s.Date, s.After, s.Before)
	}
	m, _ := s.Before.Div(s.After).Float64()
	return m, nil
}

func (s Split) String() string { return fmt.Sprintf("%v %v:%v", s.Date, s.After, s.Before) }

// Deposit is an external cash flow of a broker account. Withdrawals are negative.
type Deposit struct {
	Date   date.Date
	Amount float64
}

// CalendarSplit is a split announced by an exchange calendar.
type CalendarSplit struct {
	Symbol string
	Split  Split
}

// PriceSource provides daily adjusted closes.
type PriceSource interface {
	HistoricalDaily(ctx context.Context, ticker string, from date.Date) (*date.History[float64], error)
}

// SplitSource provides the split history known by the price source.
type SplitSource interface {
	SplitHistory(ctx context.Context, ticker string, from date.Date) ([]Split, error)
}

// SplitCalendar lists the splits executed or announced around a day.
type SplitCalendar interface {
	Splits(ctx context.Context, from date.Date) ([]CalendarSplit, error)
}

// RawQuotes reads the raw daily values stored for an asset, in the format of
// FormatRawQuotes. An empty string means no history.
type RawQuotes interface {
	GetAssetQuoteRaw(ctx context.Context, id asset.ID) (string, error)
}

// Deposits reads the cash flows of a broker NAV.
type Deposits interface {
	GetAssetDeposits(ctx context.Context, id asset.ID) ([]Deposit, error)
}

// SplitOverrides reads the splits, per ticker, the price source is known to miss.
type SplitOverrides interface {
	GetMissingSplitOverrides(ctx context.Context) (map[string][]Split, error)
}

// series is a newest-first history.
type series struct {
	dates  []date.Date
	values []float64
}

func (s series) len() int { return len(s.dates) }
