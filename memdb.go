package memdb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/broker"
	"github.com/etnz/memdb/history"
	"github.com/etnz/memdb/realtime"
	"github.com/etnz/memdb/store"
	"github.com/etnz/memdb/timeseries"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrReloadInProgress is returned when a reload is asked while another runs.
var ErrReloadInProgress = errors.New("reload in progress")

// ErrUnknownGateway is returned for a broker gateway that is not configured.
var ErrUnknownGateway = errors.New("unknown gateway")

// BackingStore is the persistent source of users, assets and NAV history.
type BackingStore interface {
	GetDataIfReloadNeeded(ctx context.Context) (*store.Data, bool, error)
	SetAssetQuoteRaw(ctx context.Context, id asset.ID, raw string) error
	history.RawQuotes
}

// HistoryBuilder builds the time series of a registry, history.Reconciler
// in production.
type HistoryBuilder interface {
	Build(ctx context.Context, reg *asset.Registry, prev *timeseries.Snapshot) (*timeseries.Snapshot, history.Report, error)
}

// ReloadObserver receives the outcome of reloads. metrics.Metrics implements it.
type ReloadObserver interface {
	ObserveReload(kind string, elapsed time.Duration, err error)
	ObserveGeneration(gen uint64, assets, dates int, seriesBytes int64)
}

// Generation is one consistent state of the database. It is never modified
// once published.
type Generation struct {
	Number    uint64
	Users     []*asset.User
	Registry  *asset.Registry
	Series    *timeseries.Snapshot
	Published time.Time
}

// MemDb is the in-memory database. There is one per process, created by New
// and passed to whoever needs it.
//
// Readers never lock: every write builds a new Generation and publishes it
// with one atomic store.
type MemDb struct {
	cfg      Config
	store    BackingStore
	hist     HistoryBuilder
	rt       *realtime.Multiplexer
	gateways []broker.Gateway
	obs      ReloadObserver
	log      *logrus.Entry
	now      func() time.Time
	loc      *time.Location

	gen atomic.Pointer[Generation]
	// addMu serializes the publications so that runtime additions and
	// reloads never overwrite each other.
	addMu sync.Mutex
	// reloading is the non reentrant reload gate.
	reloading atomic.Bool

	events *events

	accountsMu sync.RWMutex
	accounts   map[string]*broker.Account

	lastMu     sync.Mutex
	lastReload reloadInfo

	cronMu sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

type reloadInfo struct {
	ID    string
	Kind  string
	At    time.Time
	Took  time.Duration
	Err   string
	Build history.Report
}

// Option configures a MemDb.
type Option func(*MemDb)

func WithLogger(l *logrus.Entry) Option { return func(m *MemDb) { m.log = l } }

// WithRealtime attaches the quote multiplexer: its tiers are reassigned
// after every publication.
func WithRealtime(rt *realtime.Multiplexer) Option { return func(m *MemDb) { m.rt = rt } }

// WithGateways sets the broker accounts connected at startup.
func WithGateways(gws ...broker.Gateway) Option {
	return func(m *MemDb) { m.gateways = append(m.gateways, gws...) }
}

func WithObserver(o ReloadObserver) Option { return func(m *MemDb) { m.obs = o } }

func WithClock(now func() time.Time) Option { return func(m *MemDb) { m.now = now } }

// WithLocation sets the exchange time zone, America/New_York by default.
func WithLocation(loc *time.Location) Option { return func(m *MemDb) { m.loc = loc } }

// New creates an empty database. Nothing is loaded until Init.
func New(cfg Config, st BackingStore, hist HistoryBuilder, opts ...Option) *MemDb {
	m := &MemDb{
		cfg:      cfg,
		store:    st,
		hist:     hist,
		now:      time.Now,
		loc:      realtime.NewYork,
		events:   newEvents(),
		accounts: make(map[string]*broker.Account),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.NewEntry(logrus.StandardLogger())
	}
	m.log = m.log.WithField("component", "memdb")
	empty, _ := asset.Build(nil)
	m.gen.Store(&Generation{Registry: empty, Series: timeseries.Empty})
	return m
}

// Current returns the published generation: users, registry and time series
// that belong together.
func (m *MemDb) Current() *Generation { return m.gen.Load() }

// Registry returns the published registry. Reading the registry then the
// series separately may mix two consecutive generations; use Current to
// cross reference them.
func (m *MemDb) Registry() *asset.Registry { return m.gen.Load().Registry }

// Series returns the published time series.
func (m *MemDb) Series() *timeseries.Snapshot { return m.gen.Load().Series }

// Users returns the published users.
func (m *MemDb) Users() []*asset.User { return m.gen.Load().Users }

// Get returns the asset with that id, or an error wrapping asset.ErrNotFound.
func (m *MemDb) Get(id asset.ID) (asset.Asset, error) { return m.Registry().Get(id) }

// ByTicker returns the asset with that ticker, resolving basic tickers such
// as "S/SPY" to their exchange qualified asset.
func (m *MemDb) ByTicker(ticker string) (asset.Asset, error) {
	reg := m.Registry()
	if a, ok := reg.Resolve(ticker); ok {
		return a, nil
	}
	return reg.ByTicker(ticker)
}

// GetLastRtValue returns the cached real-time quotes of ids. It never waits
// for the network.
func (m *MemDb) GetLastRtValue(ids ...asset.ID) []asset.Quote {
	if m.rt != nil {
		return m.rt.GetLastRtValue(ids...)
	}
	reg := m.Registry()
	quotes := make([]asset.Quote, len(ids))
	for i, id := range ids {
		quotes[i] = asset.NoQuote
		if a, ok := reg.TryGet(id); ok {
			quotes[i] = a.Last().Load()
		}
	}
	return quotes
}

// publish builds the next generation with build, from the current one, and
// publishes it. build returns nil to publish nothing.
func (m *MemDb) publish(build func(cur *Generation) *Generation) *Generation {
	m.addMu.Lock()
	cur := m.gen.Load()
	next := build(cur)
	if next == nil {
		m.addMu.Unlock()
		return cur
	}
	next.Number = cur.Number + 1
	next.Published = m.now()
	m.gen.Store(next)
	m.addMu.Unlock()

	if m.rt != nil && next.Registry != cur.Registry {
		m.rt.Reassign(next.Registry)
	}
	if m.obs != nil {
		m.obs.ObserveGeneration(next.Number, next.Registry.Len(), next.Series.Len(), next.Series.MemUsed())
	}
	return next
}

// AddAssetIfMissing publishes a registry enlarged with the candidates whose
// ticker is unknown, and returns the assets actually added with their new
// ids. Concurrent callers adding the same ticker add it once.
func (m *MemDb) AddAssetIfMissing(candidates []asset.Asset) []asset.Asset {
	var added []asset.Asset
	m.publish(func(cur *Generation) *Generation {
		var next *asset.Registry
		next, added = cur.Registry.WithMissing(candidates)
		if len(added) == 0 {
			return nil
		}
		return &Generation{Users: cur.Users, Registry: next, Series: cur.Series}
	})
	for _, a := range added {
		m.log.WithField("ticker", a.Ticker()).WithField("id", a.ID()).Info("asset added at runtime")
	}
	return added
}
