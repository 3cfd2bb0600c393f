package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/timeseries"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reconciler builds a timeseries.Snapshot for a registry.
//
// Prices and Quotes are required, every other source is optional.
type Reconciler struct {
	Prices    PriceSource
	Splits    SplitSource
	Calendar  SplitCalendar
	Quotes    RawQuotes
	Deposits  Deposits
	Overrides SplitOverrides

	Retry   Retry
	Workers int // concurrent price downloads, defaults to 4
	Log     *logrus.Entry
	// Now and Location define "today" for future splits. Defaults to time.Now in UTC.
	Now      func() time.Time
	Location *time.Location
}

// Report summarizes one Build.
type Report struct {
	Assets            int      // assets with a series in the snapshot
	Fetched           int      // assets freshly downloaded or read
	Reused            []string // tickers whose previous series was kept after a failure
	Failed            []string // tickers with no data at all
	Splits            int      // missing splits applied
	Aggregated        int      // synthetic NAVs built
	UnmatchedDeposits int      // deposits dated on a day without NAV
	Dates             int
}

// nav is the history of one broker account before projection.
type nav struct {
	raw, adj series
	deposits []Deposit
}

func (r *Reconciler) log() *logrus.Entry {
	if r.Log != nil {
		return r.Log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "history")
}

func (r *Reconciler) today() date.Date {
	now, loc := time.Now, time.UTC
	if r.Now != nil {
		now = r.Now
	}
	if r.Location != nil {
		loc = r.Location
	}
	return date.In(now(), loc)
}

// Build fetches and reconciles the history of every asset of reg.
//
// An asset whose fetch fails keeps its series from prev (which may be nil).
// Build returns ErrNoData when nothing at all is available, and the context
// error when ctx is done; the caller keeps its previous snapshot in both cases.
func (r *Reconciler) Build(ctx context.Context, reg *asset.Registry, prev *timeseries.Snapshot) (*timeseries.Snapshot, Report, error) {
	if prev == nil {
		prev = timeseries.Empty
	}
	var (
		rep   Report
		mu    sync.Mutex
		adj   = make(map[asset.ID]series)
		raw   = make(map[asset.ID]series)
		today = r.today()
	)
	keep := func(a asset.Asset, s series, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			rep.Fetched++
			if s.len() > 0 {
				adj[a.ID()] = s
			}
			return
		}
		r.log().WithError(err).WithField("ticker", a.Ticker()).Warn("history unavailable, keeping previous data")
		if values, ok := prev.Values(a.ID(), timeseries.AdjClose); ok {
			if old := fromSnapshot(prev, values); old.len() > 0 {
				adj[a.ID()] = old
				rep.Reused = append(rep.Reused, a.Ticker())
				return
			}
		}
		rep.Failed = append(rep.Failed, a.Ticker())
	}

	overrides := r.missingSplits(ctx, reg, today)

	g := new(errgroup.Group)
	workers := r.Workers
	if workers <= 0 {
		workers = 4
	}
	g.SetLimit(workers)
	for _, a := range reg.Assets() {
		var ticker string
		switch v := a.(type) {
		case *asset.Stock:
			if !v.IsAlive() {
				continue
			}
			ticker = v.YfTicker
		case *asset.Index:
			ticker = v.YfTicker
		default:
			continue
		}
		g.Go(func() error {
			s, applied, err := r.fetchPriced(ctx, a, ticker, overrides[a.ID()], today)
			keep(a, s, err)
			if len(applied) > 0 {
				r.log().WithField("ticker", a.Ticker()).Infof("applied missing splits %v", applied)
				mu.Lock()
				rep.Splits += len(applied)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, rep, err
	}

	navs := make(map[asset.ID]nav)
	for _, n := range asset.OfType[*asset.BrokerNav](reg) {
		if n.IsAggregated() {
			continue
		}
		h, unmatched, err := r.buildNav(ctx, n)
		if err == nil && h.raw.len() > 0 {
			navs[n.ID()] = h
			raw[n.ID()] = h.raw
			rep.UnmatchedDeposits += unmatched
		}
		keep(n, h.adj, err)
		if err != nil {
			if values, ok := prev.Values(n.ID(), timeseries.RawClose); ok {
				raw[n.ID()] = fromSnapshot(prev, values)
			}
		}
	}
	for _, n := range asset.OfType[*asset.BrokerNav](reg) {
		if !n.IsAggregated() {
			continue
		}
		var children []series
		var deposits []Deposit
		for _, c := range n.Children() {
			if h, ok := navs[c.ID()]; ok {
				children = append(children, h.raw)
				deposits = append(deposits, h.deposits...)
			}
		}
		if len(children) < 2 {
			continue
		}
		sum := aggregateRaw(children)
		a, unmatched := adjustNav(sum, deposits)
		adj[n.ID()], raw[n.ID()] = series{dates: sum.dates, values: a}, sum
		rep.Aggregated++
		rep.UnmatchedDeposits += unmatched
	}

	if len(adj) == 0 {
		return nil, rep, ErrNoData
	}

	axes := make([][]date.Date, 0, len(adj))
	for _, s := range adj {
		axes = append(axes, s.dates)
	}
	axis := date.UnionNewestFirst(axes...)
	data := make(map[asset.ID]timeseries.Series, len(adj))
	for id, s := range adj {
		data[id] = timeseries.Series{timeseries.AdjClose: project(axis, s)}
		if rs, ok := raw[id]; ok && rs.len() > 0 {
			data[id][timeseries.RawClose] = project(axis, rs)
		}
	}
	snap, err := timeseries.New(axis, data)
	if err != nil {
		return nil, rep, err
	}
	rep.Assets, rep.Dates = len(data), len(axis)
	return snap, rep, nil
}

// fetchPriced downloads the closes of a stock or index and corrects the
// splits the provider missed.
func (r *Reconciler) fetchPriced(ctx context.Context, a asset.Asset, ticker string, overrides []Split, today date.Date) (series, []Split, error) {
	var h *date.History[float64]
	err := r.Retry.Do(ctx, func(ctx context.Context) (err error) {
		h, err = r.Prices.HistoricalDaily(ctx, ticker, a.HistoryStart())
		return err
	})
	if err != nil {
		return series{}, nil, fmt.Errorf("cannot fetch %q: %w", ticker, err)
	}
	s := newestFirst(h)
	if _, ok := a.(*asset.Stock); !ok || len(overrides) == 0 {
		return s, nil, nil
	}

	var known []Split
	if r.Splits != nil {
		err := r.Retry.Do(ctx, func(ctx context.Context) (err error) {
			known, err = r.Splits.SplitHistory(ctx, ticker, a.HistoryStart())
			return err
		})
		if err != nil {
			return series{}, nil, fmt.Errorf("cannot fetch splits of %q: %w", ticker, err)
		}
	}
	applied, err := applyMissingSplits(s.dates, s.values, overrides, known, today)
	if err != nil {
		return series{}, nil, fmt.Errorf("cannot apply splits of %q: %w", ticker, err)
	}
	return s, applied, nil
}

// buildNav reads a raw NAV and its deposits and adjusts it.
func (r *Reconciler) buildNav(ctx context.Context, n *asset.BrokerNav) (nav, int, error) {
	var str string
	err := r.Retry.Do(ctx, func(ctx context.Context) (err error) {
		str, err = r.Quotes.GetAssetQuoteRaw(ctx, n.ID())
		return err
	})
	if err != nil {
		return nav{}, 0, fmt.Errorf("cannot read raw NAV: %w", err)
	}
	h, err := ParseRawQuotes(str)
	if err != nil {
		return nav{}, 0, err
	}
	var deposits []Deposit
	if r.Deposits != nil {
		err := r.Retry.Do(ctx, func(ctx context.Context) (err error) {
			deposits, err = r.Deposits.GetAssetDeposits(ctx, n.ID())
			return err
		})
		if err != nil {
			return nav{}, 0, fmt.Errorf("cannot read deposits: %w", err)
		}
	}
	s := newestFirst(h)
	values, unmatched := adjustNav(s, deposits)
	return nav{raw: s, adj: series{dates: s.dates, values: values}, deposits: deposits}, unmatched, nil
}

// missingSplits gathers the overrides from the backing store and the split
// calendar, keyed by asset.
func (r *Reconciler) missingSplits(ctx context.Context, reg *asset.Registry, today date.Date) map[asset.ID][]Split {
	result := make(map[asset.ID][]Split)
	if r.Overrides != nil {
		byTicker, err := r.Overrides.GetMissingSplitOverrides(ctx)
		if err != nil {
			r.log().WithError(err).Warn("cannot read split overrides")
		}
		for ticker, splits := range byTicker {
			a, ok := reg.TryByTicker(ticker)
			if !ok {
				r.log().WithField("ticker", ticker).Warn("split override for an unknown asset")
				continue
			}
			result[a.ID()] = mergeSplits(result[a.ID()], splits)
		}
	}
	if r.Calendar == nil {
		return result
	}
	var cal []CalendarSplit
	// a week back includes the splits of the last days
	err := r.Retry.Do(ctx, func(ctx context.Context) (err error) {
		cal, err = r.Calendar.Splits(ctx, today.Add(-7))
		return err
	})
	if err != nil {
		r.log().WithError(err).Warn("cannot read the split calendar")
		return result
	}
	used := 0
	for _, cs := range cal {
		for _, a := range reg.BySymbol(cs.Symbol) {
			if s, ok := a.(*asset.Stock); ok && s.IsAlive() {
				result[s.ID()] = mergeSplits(result[s.ID()], []Split{cs.Split})
				used++
			}
		}
	}
	r.log().Infof("split calendar has %d usable records", used)
	return result
}

// SeedPriorCloses sets the prior close of stocks and indices that have none
// yet from the newest historical close.
func SeedPriorCloses(reg *asset.Registry, snap *timeseries.Snapshot, loc *time.Location) int {
	if snap == nil || snap.Len() == 0 {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	newest, _ := snap.Range()
	n := 0
	for _, a := range reg.Assets() {
		switch a.(type) {
		case *asset.Stock, *asset.Index:
		default:
			continue
		}
		v, on, ok := snap.LastAsOf(a.ID(), timeseries.AdjClose, newest)
		if !ok {
			continue
		}
		// closes are published at 16:00 on the exchange clock
		if a.PriorClose().StoreIfEmpty(v, on.Time(loc).Add(16*time.Hour)) {
			n++
		}
	}
	return n
}
