// Package eodhd reads daily closes and split histories from the EOD
// Historical Data API (https://eodhd.com).
package eodhd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the production API.
const DefaultBaseURL = "https://eodhd.com/api"

// Client implements history.PriceSource and history.SplitSource.
type Client struct {
	key     string
	baseURL string
	client  *http.Client
}

var (
	_ history.PriceSource = (*Client)(nil)
	_ history.SplitSource = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client to another server, e.g. a test one.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") } }

// WithHTTPClient replaces the disk cached client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.client = h } }

// New returns a client using apiKey. Responses are cached on disk for an hour
// in cacheDir, the temporary directory when empty.
func New(apiKey, cacheDir string, log *logrus.Entry, opts ...Option) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{key: apiKey, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = newCachingClient(cacheDir, log.WithField("component", "eodhd"))
	}
	return c
}

// Symbol converts a Yahoo style ticker into an EODHD one: "^VIX" is the index
// "VIX.INDX", "BRK-B" the US stock "BRK-B.US". Tickers already qualified
// with an exchange are kept.
func Symbol(ticker string) string {
	switch {
	case strings.HasPrefix(ticker, "^"):
		return ticker[1:] + ".INDX"
	case strings.Contains(ticker, "."):
		return ticker
	}
	return ticker + ".US"
}

func (c *Client) url(path, ticker string, from date.Date) string {
	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("api_token", c.key)
	if !from.IsZero() {
		q.Set("from", from.String())
	}
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, path, url.PathEscape(Symbol(ticker)), q.Encode())
}

// HistoricalDaily returns the adjusted closes of ticker since from.
func (c *Client) HistoricalDaily(ctx context.Context, ticker string, from date.Date) (*date.History[float64], error) {
	// [{"date": "2024-02-13", "open": 675.066, "high": 684.219, "low": 648.659,
	//   "close": 668.445, "adjusted_close": 67.705, "volume": 0}, ...]
	type Info struct {
		Date          date.Date `json:"date"`
		Close         float64   `json:"close"`
		AdjustedClose *float64  `json:"adjusted_close"`
	}
	content := make([]Info, 0)
	if err := jwget(ctx, c.client, c.url("eod", ticker, from), &content); err != nil {
		return nil, err
	}
	h := new(date.History[float64])
	for _, info := range content {
		v := info.Close
		if info.AdjustedClose != nil {
			v = *info.AdjustedClose
		}
		h.Append(info.Date, v)
	}
	return h, nil
}

// SplitHistory returns the splits of ticker since from, as known by EODHD.
func (c *Client) SplitHistory(ctx context.Context, ticker string, from date.Date) ([]history.Split, error) {
	// [{"date": "2020-08-31", "split": "4.000000/1.000000"}]
	type apiSplit struct {
		Date  date.Date `json:"date"`
		Split string    `json:"split"`
	}
	content := make([]apiSplit, 0)
	if err := jwget(ctx, c.client, c.url("splits", ticker, from), &content); err != nil {
		return nil, err
	}

	splits := make([]history.Split, 0, len(content))
	for _, s := range content {
		after, before, ok := strings.Cut(s.Split, "/")
		if !ok {
			return nil, fmt.Errorf("invalid split format from API: %q", s.Split)
		}
		numDecimal, err := decimal.NewFromString(after)
		if err != nil {
			return nil, fmt.Errorf("invalid numerator in split %q: %w", s.Split, err)
		}
		denDecimal, err := decimal.NewFromString(before)
		if err != nil {
			return nil, fmt.Errorf("invalid denominator in split %q: %w", s.Split, err)
		}
		num, den := simplifyDecimalRatio(numDecimal, denDecimal)
		splits = append(splits, history.NewSplit(s.Date, den, num))
	}
	return splits, nil
}
