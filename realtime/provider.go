package realtime

import (
	"context"
	"time"

	"github.com/etnz/memdb/asset"
)

// Request is one quote request.
type Request struct {
	Symbols []string
	// Session selects the price field of providers quoting extended hours.
	Session Session
	// PriorClose asks for the previous close as well.
	PriorClose bool
}

// RawQuote is the answer of a provider for one symbol. Nil fields were not
// returned. Values are kept as received and validated by ParsePrice.
type RawQuote struct {
	Last       any
	PriorClose any
	// Time of the last value; zero means the time of the poll.
	Time time.Time
}

// QuoteProvider fetches quotes for a batch of symbols. Symbols unknown to the
// provider are absent from the result.
type QuoteProvider interface {
	Quotes(ctx context.Context, req Request) (map[string]RawQuote, error)
}

// NavSource reads the current net liquidation value of broker accounts.
type NavSource interface {
	NavValues(ctx context.Context, navs []*asset.BrokerNav) (map[asset.ID]RawQuote, error)
}

// Observer receives the outcome of every poll.
type Observer interface {
	ObservePoll(tier string, provider string, assets int, elapsed time.Duration, err error)
}

// QuoteProviderFunc adapts a function to QuoteProvider.
type QuoteProviderFunc func(ctx context.Context, req Request) (map[string]RawQuote, error)

func (f QuoteProviderFunc) Quotes(ctx context.Context, req Request) (map[string]RawQuote, error) {
	return f(ctx, req)
}
