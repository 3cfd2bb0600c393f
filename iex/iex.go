// Package iex is the low latency quote provider used during regular trading
// hours. Its free quota is small, so requests rotate over several API tokens
// and each token is rate limited.
package iex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/etnz/memdb/realtime"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production API.
const DefaultBaseURL = "https://cloud.iexapis.com/stable"

const (
	// maxTops is a safe number of symbols for one tops request; above about
	// 1000 the server closes the connection.
	maxTops = 800
	// maxBatch is the number of symbols a market batch request answers.
	maxBatch = 100
)

// ErrNoToken is returned when the client has no API token.
var ErrNoToken = errors.New("no IEX API token")

type token struct {
	value   string
	limiter *rate.Limiter
}

// Client implements realtime.QuoteProvider.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
	tokens  []token
	next    atomic.Uint32
	// global limits requests from this process whatever the token
	global *rate.Limiter
}

var _ realtime.QuoteProvider = (*Client)(nil)

// Limits bounds the request rate of one token.
type Limits struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

// DefaultLimits keeps two tokens under the monthly free quota with the High
// tier polling every 30s.
var DefaultLimits = Limits{Every: 20 * time.Second, Burst: 3}

// New returns a client rotating over tokens.
func New(baseURL string, tokens []string, limits Limits, client *http.Client, log *logrus.Entry) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = new(http.Client)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if limits.Every <= 0 {
		limits = DefaultLimits
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		log:     log.WithField("component", "iex"),
		// no more than 1 request per 10ms per IP
		global: rate.NewLimiter(rate.Every(10*time.Millisecond), 1),
	}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			c.tokens = append(c.tokens, token{value: t, limiter: rate.NewLimiter(rate.Every(limits.Every), max(limits.Burst, 1))})
		}
	}
	return c
}

// token returns the next token in round robin order, once its limiter allows it.
func (c *Client) token(ctx context.Context) (string, error) {
	if len(c.tokens) == 0 {
		return "", ErrNoToken
	}
	t := c.tokens[int(c.next.Add(1)-1)%len(c.tokens)]
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if err := c.global.Wait(ctx); err != nil {
		return "", err
	}
	return t.value, nil
}

// Quotes implements realtime.QuoteProvider. Last prices come from the tops
// endpoint; when prior closes are requested the market batch endpoint is
// used instead, as tops does not know them.
func (c *Client) Quotes(ctx context.Context, req realtime.Request) (map[string]realtime.RawQuote, error) {
	out := make(map[string]realtime.RawQuote, len(req.Symbols))
	size, fetch := maxTops, c.tops
	if req.PriorClose {
		size, fetch = maxBatch, c.batch
	}
	var errs []error
	for start := 0; start < len(req.Symbols); start += size {
		if err := fetch(ctx, req.Symbols[start:min(start+size, len(req.Symbols))], out); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// tops reads [{"symbol":"SPY","lastSalePrice":470.12,"lastSaleTime":1582750800386}, ...]
func (c *Client) tops(ctx context.Context, symbols []string, out map[string]realtime.RawQuote) error {
	body, err := c.get(ctx, "/tops", url.Values{"symbols": {strings.Join(symbols, ",")}})
	if err != nil {
		return err
	}
	gjson.ParseBytes(body).ForEach(func(_, v gjson.Result) bool {
		q := realtime.RawQuote{Last: value(v.Get("lastSalePrice"))}
		if ms := v.Get("lastSaleTime").Int(); ms > 0 {
			q.Time = time.UnixMilli(ms)
		}
		out[v.Get("symbol").String()] = q
		return true
	})
	return nil
}

// batch reads {"SPY":{"quote":{"symbol":"SPY","latestPrice":470.12,"previousClose":468.5,"latestUpdate":1582750800386}}, ...}
func (c *Client) batch(ctx context.Context, symbols []string, out map[string]realtime.RawQuote) error {
	body, err := c.get(ctx, "/stock/market/batch", url.Values{"types": {"quote"}, "symbols": {strings.Join(symbols, ",")}})
	if err != nil {
		return err
	}
	gjson.ParseBytes(body).ForEach(func(key, v gjson.Result) bool {
		quote := v.Get("quote")
		q := realtime.RawQuote{
			Last:       value(quote.Get("latestPrice")),
			PriorClose: value(quote.Get("previousClose")),
		}
		if ms := quote.Get("latestUpdate").Int(); ms > 0 {
			q.Time = time.UnixMilli(ms)
		}
		out[key.String()] = q
		return true
	})
	return nil
}

// value returns the raw JSON value, nil when absent or null.
func value(r gjson.Result) any {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return r.Value()
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	q.Set("token", tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
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
		// e.g. "Access is restricted to paid subscribers"
		return nil, fmt.Errorf("unexpected response from %v: %.80q", path, body)
	}
	return body, nil
}
