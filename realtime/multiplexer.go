package realtime

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TierStatus is the diagnostic state of a tier.
type TierStatus struct {
	Tier     Tier
	Fetching bool
	// Interval is the current delay between two polls.
	Interval    time.Duration
	Provider    string
	Assets      int
	Runs        uint64
	LastRun     time.Time
	LastSuccess time.Time
	LastError   string
}

type tierState struct {
	fetching atomic.Bool
	fixed    atomic.Pointer[[]asset.Asset]

	mu     sync.Mutex
	status TierStatus
}

// Multiplexer polls the quote providers tier by tier and merges the answers
// into the Last and PriorClose cells of the registry assets.
//
// Reads never perform I/O: GetLastRtValue returns the cached cells and marks
// the assets as recently queried, which promotes them to the High tier.
type Multiplexer struct {
	cfg   Config
	batch QuoteProvider
	fast  QuoteProvider
	navs  NavSource
	log   *logrus.Entry
	obs   Observer
	now   func() time.Time
	loc   *time.Location

	reg    atomic.Pointer[asset.Registry]
	tiers  [numTiers]tierState
	recent sync.Map // asset.ID -> time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

func WithLogger(l *logrus.Entry) Option { return func(m *Multiplexer) { m.log = l } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(m *Multiplexer) { m.now = now } }

// WithLocation sets the exchange clock, NewYork by default.
func WithLocation(loc *time.Location) Option { return func(m *Multiplexer) { m.loc = loc } }

func WithObserver(o Observer) Option { return func(m *Multiplexer) { m.obs = o } }

// WithLowLatency sets the real time provider. Without it every tier uses the batch provider.
func WithLowLatency(p QuoteProvider) Option { return func(m *Multiplexer) { m.fast = p } }

// WithNavSource sets the source of live NAVs. Without it the NAV tiers are idle.
func WithNavSource(n NavSource) Option { return func(m *Multiplexer) { m.navs = n } }

// New creates a stopped Multiplexer over the batch provider.
func New(cfg Config, batch QuoteProvider, opts ...Option) *Multiplexer {
	m := &Multiplexer{cfg: cfg, batch: batch, now: time.Now, loc: NewYork}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.NewEntry(logrus.StandardLogger())
	}
	m.log = m.log.WithField("component", "realtime")
	if m.cfg.Promotion <= 0 {
		m.cfg.Promotion = 5 * time.Minute
	}
	return m
}

// Reassign distributes the assets of reg over the tiers. It is called after
// every reload and after assets were added at runtime.
func (m *Multiplexer) Reassign(reg *asset.Registry) {
	m.reg.Store(reg)
	resolve := func(tickers []string) []asset.Asset {
		var out []asset.Asset
		for _, ticker := range tickers {
			a, ok := reg.Resolve(ticker)
			if !ok {
				m.log.WithField("ticker", ticker).Warn("tier ticker not in the registry")
				continue
			}
			out = append(out, a)
		}
		return out
	}
	high, mid := resolve(m.cfg.HighTickers), resolve(m.cfg.MidTickers)
	low := reg.Find(func(a asset.Asset) bool {
		switch v := a.(type) {
		case *asset.Stock:
			return v.IsAlive()
		case *asset.Index:
			return true
		}
		return false
	})
	var navLow []asset.Asset
	for _, n := range asset.OfType[*asset.BrokerNav](reg) {
		if !n.IsAggregated() {
			navLow = append(navLow, n)
		}
	}
	var none []asset.Asset
	m.tiers[High].fixed.Store(&high)
	m.tiers[Mid].fixed.Store(&mid)
	m.tiers[Low].fixed.Store(&low)
	m.tiers[NavHigh].fixed.Store(&none)
	m.tiers[NavLow].fixed.Store(&navLow)
	m.log.Infof("tiers reassigned: high=%d mid=%d low=%d navlow=%d", len(high), len(mid), len(low), len(navLow))
}

// TierAssets returns the assets the next poll of t will fetch.
func (m *Multiplexer) TierAssets(t Tier) []asset.Asset {
	var out []asset.Asset
	if p := m.tiers[t].fixed.Load(); p != nil {
		out = slices.Clone(*p)
	}
	switch t {
	case High:
		out = append(out, m.recentAssets(false)...)
	case NavHigh:
		for _, a := range m.recentAssets(true) {
			if n := a.(*asset.BrokerNav); n.IsAggregated() {
				for _, c := range n.Children() {
					out = append(out, c)
				}
			} else {
				out = append(out, n)
			}
		}
	}
	seen := make(map[asset.ID]bool, len(out))
	return slices.DeleteFunc(out, func(a asset.Asset) bool {
		if seen[a.ID()] {
			return true
		}
		seen[a.ID()] = true
		return false
	})
}

// recentAssets returns the assets queried within the promotion window,
// either the NAVs or everything else, and forgets the older queries.
func (m *Multiplexer) recentAssets(navs bool) []asset.Asset {
	reg := m.reg.Load()
	if reg == nil {
		return nil
	}
	cutoff := m.now().Add(-m.cfg.Promotion)
	var out []asset.Asset
	m.recent.Range(func(key, value any) bool {
		id := key.(asset.ID)
		if value.(time.Time).Before(cutoff) {
			m.recent.Delete(id)
			return true
		}
		a, ok := reg.TryGet(id)
		if ok && (a.Type() == asset.TypeBrokerNAV) == navs {
			out = append(out, a)
		}
		return true
	})
	slices.SortFunc(out, func(a, b asset.Asset) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// GetLastRtValue returns the cached last value of every id, NoQuote for
// unknown ids. It never blocks on a provider.
func (m *Multiplexer) GetLastRtValue(ids ...asset.ID) []asset.Quote {
	out := make([]asset.Quote, len(ids))
	reg := m.reg.Load()
	now := m.now()
	for i, id := range ids {
		out[i] = asset.NoQuote
		if reg == nil {
			continue
		}
		a, ok := reg.TryGet(id)
		if !ok {
			continue
		}
		m.recent.Store(id, now)
		if n, ok := a.(*asset.BrokerNav); ok {
			out[i] = NavQuote(n)
			continue
		}
		out[i] = a.Last().Load()
	}
	return out
}

// GetLastNavRtValue returns the live value of a broker NAV.
func (m *Multiplexer) GetLastNavRtValue(id asset.ID) (asset.Quote, error) {
	reg := m.reg.Load()
	if reg == nil {
		return asset.NoQuote, fmt.Errorf("%w: %v", asset.ErrNotFound, id)
	}
	a, err := reg.Get(id)
	if err != nil {
		return asset.NoQuote, err
	}
	n, ok := a.(*asset.BrokerNav)
	if !ok {
		return asset.NoQuote, fmt.Errorf("%s is a %v not a broker NAV", a.Ticker(), a.Type())
	}
	m.recent.Store(id, m.now())
	return NavQuote(n), nil
}

// NavQuote returns the live value of n. An aggregated NAV sums its children:
// it is NaN as soon as one child has no value, and its time is the oldest
// child time.
func NavQuote(n *asset.BrokerNav) asset.Quote {
	if !n.IsAggregated() {
		return n.Last().Load()
	}
	var sum float64
	var oldest time.Time
	for i, c := range n.Children() {
		q := c.Last().Load()
		if !q.Valid() {
			sum = math.NaN()
		} else if !math.IsNaN(sum) {
			sum += q.Value
		}
		if i == 0 || q.Time.Before(oldest) {
			oldest = q.Time
		}
	}
	return asset.Quote{Value: sum, Time: oldest}
}

// Poll runs one poll of tier t now. A poll of t already running makes it
// return immediately. Provider errors are returned after the answers that
// did arrive have been applied.
func (m *Multiplexer) Poll(ctx context.Context, t Tier) error {
	st := &m.tiers[t]
	if !st.fetching.CompareAndSwap(false, true) {
		return nil
	}
	defer st.fetching.Store(false)

	start := m.now()
	session := SessionAt(start, m.loc)
	assets := m.TierAssets(t)
	provider := "nav"
	var err error
	switch {
	case len(assets) == 0:
		provider = ""
	case t.IsNav():
		err = m.pollNavs(ctx, assets, start)
	default:
		var p Provider
		p, err = m.pollPrices(ctx, t, session, assets, start)
		provider = p.String()
	}
	elapsed := m.now().Sub(start)

	st.mu.Lock()
	st.status.Runs++
	st.status.LastRun = start
	st.status.Assets = len(assets)
	st.status.Provider = provider
	if err != nil {
		st.status.LastError = err.Error()
	} else {
		st.status.LastError = ""
		st.status.LastSuccess = start
	}
	st.mu.Unlock()

	if m.obs != nil {
		m.obs.ObservePoll(t.String(), provider, len(assets), elapsed, err)
	}
	m.log.WithFields(logrus.Fields{"tier": t, "assets": len(assets), "provider": provider, "elapsed": elapsed}).Debug("poll done")
	return err
}

func (m *Multiplexer) pollPrices(ctx context.Context, t Tier, session Session, assets []asset.Asset, at time.Time) (Provider, error) {
	p := m.cfg.Tier(t).Policy.Choose(session)
	if p == LowLatency && m.fast == nil {
		p = Batch
	}
	batch := make(map[string][]asset.Asset)
	fast := make(map[string][]asset.Asset)
	for _, a := range assets {
		switch v := a.(type) {
		case *asset.Stock:
			if p == LowLatency {
				fast[v.IexTicker] = append(fast[v.IexTicker], v)
			} else {
				batch[v.YfTicker] = append(batch[v.YfTicker], v)
			}
		case *asset.Index:
			// the low latency provider has no index
			batch[v.YfTicker] = append(batch[v.YfTicker], v)
		}
	}
	req := Request{Session: session, PriorClose: t == Low}
	var errs []error
	if len(fast) > 0 {
		if err := m.fetch(ctx, m.fast, fast, req, at); err != nil {
			errs = append(errs, fmt.Errorf("low latency provider: %w", err))
		}
	}
	if len(batch) > 0 {
		if err := m.fetch(ctx, m.batch, batch, req, at); err != nil {
			errs = append(errs, fmt.Errorf("batch provider: %w", err))
		}
	}
	return p, errors.Join(errs...)
}

func (m *Multiplexer) fetch(ctx context.Context, p QuoteProvider, bySymbol map[string][]asset.Asset, req Request, at time.Time) error {
	req.Symbols = slices.Sorted(maps.Keys(bySymbol))
	quotes, err := p.Quotes(ctx, req)
	for symbol, assets := range bySymbol {
		q, ok := quotes[symbol]
		if !ok {
			continue
		}
		when := q.Time
		if when.IsZero() {
			when = at
		}
		for _, a := range assets {
			m.apply(a, a.Last(), "last", q.Last, when)
			if req.PriorClose {
				m.apply(a, a.PriorClose(), "prior close", q.PriorClose, when)
			}
		}
	}
	return err
}

func (m *Multiplexer) apply(a asset.Asset, cell *asset.Cell, field string, v any, at time.Time) {
	if v == nil {
		return
	}
	if err := update(cell, v, at); err != nil {
		m.log.WithError(err).WithField("ticker", a.Ticker()).Debugf("%s skipped", field)
	}
}

func (m *Multiplexer) pollNavs(ctx context.Context, assets []asset.Asset, at time.Time) error {
	if m.navs == nil {
		return nil
	}
	byID := make(map[asset.ID]*asset.BrokerNav, len(assets))
	navs := make([]*asset.BrokerNav, 0, len(assets))
	for _, a := range assets {
		if n, ok := a.(*asset.BrokerNav); ok && !n.IsAggregated() {
			byID[n.ID()] = n
			navs = append(navs, n)
		}
	}
	values, err := m.navs.NavValues(ctx, navs)
	for id, q := range values {
		n, ok := byID[id]
		if !ok {
			continue
		}
		when := q.Time
		if when.IsZero() {
			when = at
		}
		m.apply(n, n.Last(), "nav", q.Last, when)
	}
	return err
}

// Refresh polls the Low and NavLow tiers synchronously, to fill every last
// value and prior close after a reload.
func (m *Multiplexer) Refresh(ctx context.Context) error {
	return errors.Join(m.Poll(ctx, Low), m.Poll(ctx, NavLow))
}

// Start schedules every tier. Each poll reschedules its tier with the
// interval of the session in effect at that time.
func (m *Multiplexer) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	logger := cron.PrintfLogger(m.log)
	c := cron.New(
		cron.WithLocation(m.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, t := range Tiers {
		c.Schedule(schedule{cfg: m.cfg.Tier(t), loc: m.loc}, cron.FuncJob(func() { m.fire(ctx, t) }))
	}
	c.Start()
	m.cron = c
	m.log.Info("realtime tiers started")
}

func (m *Multiplexer) fire(ctx context.Context, t Tier) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	if err := m.Poll(ctx, t); err != nil {
		m.log.WithError(err).WithField("tier", t).Warn("poll failed")
	}
}

// Stop cancels running polls and waits for them to return.
func (m *Multiplexer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron == nil {
		return
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.cron = nil
	m.log.Info("realtime tiers stopped")
}

// Status returns the state of every tier.
func (m *Multiplexer) Status() []TierStatus {
	session := SessionAt(m.now(), m.loc)
	out := make([]TierStatus, 0, numTiers)
	for _, t := range Tiers {
		st := &m.tiers[t]
		st.mu.Lock()
		s := st.status
		st.mu.Unlock()
		s.Tier = t
		s.Fetching = st.fetching.Load()
		s.Interval = m.cfg.Tier(t).Interval(session)
		out = append(out, s)
	}
	return out
}

// RecentlyQueried returns the assets currently promoted by reads.
func (m *Multiplexer) RecentlyQueried() []asset.Asset {
	return append(m.recentAssets(false), m.recentAssets(true)...)
}
