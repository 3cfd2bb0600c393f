// Package yahoo is the batch quote provider: delayed prices for every
// session, including pre-market and after-hours.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/memdb/realtime"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the production quote endpoint.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v7/finance/quote"

// MaxSymbols is the number of symbols asked in one request.
const MaxSymbols = 100

// Client implements realtime.QuoteProvider.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

var _ realtime.QuoteProvider = (*Client)(nil)

// New returns a client of baseURL, DefaultBaseURL when empty.
func New(baseURL string, client *http.Client, log *logrus.Entry) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = new(http.Client)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{baseURL: baseURL, client: client, log: log.WithField("component", "yahoo")}
}

// Fields returns the fields holding the last price and the prior close
// during session s.
//
// Before the pre-market opens the last price is still the previous
// after-hours one and the prior close is the last regular close, so that
// Monday night shows the Friday values.
func Fields(s realtime.Session) (last, priorClose string) {
	switch s {
	case realtime.PrePre:
		return "postMarketPrice", "regularMarketPrice"
	case realtime.Pre:
		return "preMarketPrice", "regularMarketPrice"
	case realtime.RTH:
		return "regularMarketPrice", "regularMarketPreviousClose"
	}
	return "postMarketPrice", "regularMarketPreviousClose"
}

// Quotes implements realtime.QuoteProvider.
func (c *Client) Quotes(ctx context.Context, req realtime.Request) (map[string]realtime.RawQuote, error) {
	out := make(map[string]realtime.RawQuote, len(req.Symbols))
	var errs []error
	for start := 0; start < len(req.Symbols); start += MaxSymbols {
		chunk := req.Symbols[start:min(start+MaxSymbols, len(req.Symbols))]
		if err := c.quotes(ctx, chunk, req, out); err != nil {
			errs = append(errs, err)
		}
	}
	if missing := len(req.Symbols) - len(out); missing > 0 && len(errs) == 0 {
		c.log.Warnf("queried %d symbols, received %d", len(req.Symbols), len(out))
	}
	return out, errors.Join(errs...)
}

func (c *Client) quotes(ctx context.Context, symbols []string, req realtime.Request, out map[string]realtime.RawQuote) error {
	lastField, priorField := Fields(req.Session)
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	q.Set("fields", "symbol,marketState,regularMarketPrice,regularMarketPreviousClose,preMarketPrice,preMarketChange,postMarketPrice")
	addr := c.baseURL + "?" + q.Encode()

	jobj, err := get(ctx, c.client, addr)
	if err != nil {
		return err
	}
	if e, err := jsonpath.Get("$.quoteResponse.error", jobj); err == nil && e != nil {
		return fmt.Errorf("quote error: %v", e)
	}
	jval, err := jsonpath.Get("$.quoteResponse.result[*]", jobj)
	if err != nil {
		return fmt.Errorf("unexpected quote response: %w", err)
	}
	results, _ := jval.([]any)
	for _, r := range results {
		symbol, ok := field(r, "symbol").(string)
		if !ok {
			continue
		}
		// some ETFs have no extended hours price: fall back to the regular one
		last := field(r, lastField)
		if last == nil {
			last = field(r, "regularMarketPrice")
		}
		quote := realtime.RawQuote{Last: last}
		if req.PriorClose {
			quote.PriorClose = field(r, priorField)
			// the regular fields ignore a split executed this morning, the
			// pre-market change does not
			if change, ok := field(r, "preMarketChange").(float64); ok && req.Session == realtime.Pre {
				if p, ok := last.(float64); ok {
					quote.PriorClose = p - change
				}
			}
		}
		out[symbol] = quote
	}
	return nil
}

// field returns the value of key in the JSON object r, or nil.
func field(r any, key string) any {
	v, err := jsonpath.Get("$."+key, r)
	if err != nil {
		return nil
	}
	return v
}

func get(ctx context.Context, client *http.Client, addr string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cannot http GET %v%v: %v", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	var jobj any
	if err := json.NewDecoder(resp.Body).Decode(&jobj); err != nil {
		return nil, fmt.Errorf("cannot decode quote response: %w", err)
	}
	return jobj, nil
}
