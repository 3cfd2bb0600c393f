// Package nasdaq reads the exchange split calendar, a source of the splits
// the price provider has not applied yet.
package nasdaq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DefaultURL is the production calendar endpoint.
const DefaultURL = "https://api.nasdaq.com/api/calendar/splits"

// executionFormat is the layout of "executionDate":"3/28/2023".
const executionFormat = "1/2/2006"

// Calendar implements history.SplitCalendar.
type Calendar struct {
	url    string
	client *http.Client
	log    *logrus.Entry
}

var _ history.SplitCalendar = (*Calendar)(nil)

func New(url string, client *http.Client, log *logrus.Entry) *Calendar {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = new(http.Client)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Calendar{url: url, client: client, log: log.WithField("component", "nasdaq")}
}

// Splits returns the splits listed from day onwards.
//
//	{"data":{"rows":[{"symbol":"SRL","ratio":"2 : 1","executionDate":"11/12/2021"}]},...}
//
// A "2 : 1" ratio gives 2 shares after for 1 before. Percent ratios are stock
// dividends and are ignored. A null data means no split, not an error.
func (c *Calendar) Splits(ctx context.Context, day date.Date) ([]history.CalendarSplit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?date="+day.String(), nil)
	if err != nil {
		return nil, err
	}
	// the API rejects requests without a browser like agent
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cannot http GET %v%v: %v", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("split calendar is not JSON: %.80q", body)
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		c.log.Warnf("split calendar from %v is empty", day)
		return nil, nil
	}
	var splits []history.CalendarSplit
	for _, row := range data.Get("rows").Array() {
		symbol := row.Get("symbol").String()
		ratio := row.Get("ratio").String()
		split, ok, err := parseRow(ratio, row.Get("executionDate").String())
		if err != nil {
			c.log.WithError(err).WithField("symbol", symbol).Warn("invalid split calendar row")
			continue
		}
		if ok {
			splits = append(splits, history.CalendarSplit{Symbol: symbol, Split: split})
		}
	}
	return splits, nil
}

// parseRow returns false for stock dividends.
func parseRow(ratio, execution string) (history.Split, bool, error) {
	after, before, ok := strings.Cut(ratio, ":")
	if !ok {
		if strings.HasSuffix(strings.TrimSpace(ratio), "%") {
			return history.Split{}, false, nil
		}
		return history.Split{}, false, fmt.Errorf("invalid ratio %q", ratio)
	}
	a, err := decimal.NewFromString(strings.TrimSpace(after))
	if err != nil {
		return history.Split{}, false, fmt.Errorf("invalid ratio %q: %w", ratio, err)
	}
	b, err := decimal.NewFromString(strings.TrimSpace(before))
	if err != nil {
		return history.Split{}, false, fmt.Errorf("invalid ratio %q: %w", ratio, err)
	}
	t, err := time.Parse(executionFormat, strings.TrimSpace(execution))
	if err != nil {
		return history.Split{}, false, fmt.Errorf("invalid execution date %q: %w", execution, err)
	}
	return history.Split{Date: date.New(t.Date()), Before: b, After: a}, true, nil
}
