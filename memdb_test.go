package memdb

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/broker"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
	"github.com/etnz/memdb/realtime"
	"github.com/etnz/memdb/store"
	"github.com/etnz/memdb/timeseries"
	"github.com/sirupsen/logrus"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeStore serves a fresh copy of testData at every load.
type fakeStore struct {
	mu      sync.Mutex
	loads   int
	changed bool // report a change after the first load
	err     error
	raw     map[asset.ID]string
}

func (s *fakeStore) GetDataIfReloadNeeded(ctx context.Context) (*store.Data, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	s.loads++
	if s.loads > 1 && !s.changed {
		return nil, false, nil
	}
	return testData(), true, nil
}

func (s *fakeStore) GetAssetQuoteRaw(ctx context.Context, id asset.ID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw[id], nil
}

func (s *fakeStore) SetAssetQuoteRaw(ctx context.Context, id asset.ID, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		s.raw = make(map[asset.ID]string)
	}
	s.raw[id] = raw
	return nil
}

func testData() *store.Data {
	jd := &asset.User{ID: 42, Username: "jdoe", Initials: "JD"}
	return &store.Data{
		Users: []*asset.User{jd},
		Assets: []asset.Asset{
			asset.NewStock(asset.NewID(asset.TypeStock, 1), asset.StockInfo{Symbol: "SPY", Currency: "USD"}),
			asset.NewStock(asset.NewID(asset.TypeStock, 2), asset.StockInfo{Symbol: "VXX", Currency: "USD"}),
			asset.NewBrokerNav(asset.NewID(asset.TypeBrokerNAV, 1), "JD.IM", "main", "USD", jd, "gw1"),
			asset.NewBrokerNav(asset.NewID(asset.TypeBrokerNAV, 2), "JD.ID", "second", "USD", jd, "gw2"),
		},
	}
}

// fakeHistory gives every stock two closes. When block is set, Build waits
// for it after signaling started.
type fakeHistory struct {
	started chan struct{}
	block   chan struct{}
	err     error
}

func (h *fakeHistory) Build(ctx context.Context, reg *asset.Registry, prev *timeseries.Snapshot) (*timeseries.Snapshot, history.Report, error) {
	if h.block != nil {
		h.started <- struct{}{}
		<-h.block
	}
	if h.err != nil {
		return nil, history.Report{}, h.err
	}
	data := make(map[asset.ID]timeseries.Series)
	for _, s := range asset.OfType[*asset.Stock](reg) {
		data[s.ID()] = timeseries.Series{timeseries.AdjClose: []float32{101, 100}}
	}
	snap, err := timeseries.New([]date.Date{date.New(2024, 1, 5), date.New(2024, 1, 4)}, data)
	return snap, history.Report{Assets: len(data), Dates: 2}, err
}

var monday = time.Date(2024, 1, 8, 16, 20, 0, 0, realtime.NewYork)

func newTestDb(st *fakeStore, h *fakeHistory, opts ...Option) *MemDb {
	opts = append([]Option{WithLogger(quietLog()), WithClock(func() time.Time { return monday })}, opts...)
	return New(DefaultConfig(), st, h, opts...)
}

func TestInit(t *testing.T) {
	db := newTestDb(&fakeStore{}, &fakeHistory{})
	var got []Event
	db.Subscribe(func(e Event) { got = append(got, e) })

	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}
	want := []Event{EventInitNoHistoryYet, EventBrokersConnected, EventFullDataReloaded}
	if !slices.Equal(got, want) {
		t.Errorf("Init() events = %v want %v", got, want)
	}
	for _, ev := range want {
		select {
		case <-db.Ready(ev):
		default:
			t.Errorf("Ready(%v) is not closed", ev)
		}
	}
	select {
	case <-db.Ready(EventHistoricalDataReloaded):
		t.Error("Ready(EventHistoricalDataReloaded) closed without a history reload")
	default:
	}

	gen := db.Current()
	if gen.Number != 2 {
		t.Errorf("generation = %d want 2 (assets, then history)", gen.Number)
	}
	// 4 persisted assets and the aggregated NAV of JD
	if gen.Registry.Len() != 5 {
		t.Errorf("registry has %d assets want 5", gen.Registry.Len())
	}
	if _, err := db.ByTicker("N/JD"); err != nil {
		t.Errorf("aggregated NAV not found: %v", err)
	}
	spy, err := db.ByTicker("S/SPY")
	if err != nil {
		t.Fatalf("ByTicker(S/SPY) unexpected error = %v", err)
	}
	if !gen.Series.Has(spy.ID()) {
		t.Error("SPY has no history")
	}
	// prior close seeded from the newest close
	if q := spy.PriorClose().Load(); q.Value != 101 {
		t.Errorf("SPY prior close = %v want 101", q.Value)
	}
	if _, err := db.Get(asset.NewID(asset.TypeStock, 99)); !errors.Is(err, asset.ErrNotFound) {
		t.Errorf("Get(unknown) error = %v want ErrNotFound", err)
	}
}

func TestInitStoreFailure(t *testing.T) {
	db := newTestDb(&fakeStore{err: errors.New("connection refused")}, &fakeHistory{})
	if err := db.Init(context.Background()); err == nil {
		t.Fatal("Init() want error when the store is down")
	}
	if db.Fired(EventInitNoHistoryYet) {
		t.Error("EventInitNoHistoryYet raised without data")
	}
}

func TestInitWithoutHistory(t *testing.T) {
	db := newTestDb(&fakeStore{}, &fakeHistory{err: history.ErrNoData})
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}
	if db.Series().Len() != 0 {
		t.Errorf("series has %d dates want none", db.Series().Len())
	}
	if !db.Fired(EventFullDataReloaded) {
		t.Error("EventFullDataReloaded not raised")
	}
	if db.Status().LastReload.Error == "" {
		t.Error("Status() does not report the history failure")
	}
}

func TestReload(t *testing.T) {
	st := &fakeStore{}
	db := newTestDb(st, &fakeHistory{})
	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}
	changed, err := db.Reload(ctx)
	if err != nil || changed {
		t.Errorf("Reload() = %v, %v want no change", changed, err)
	}

	// runtime assets and real-time values survive a reload
	vxx, _ := db.ByTicker("S/VXX")
	added := db.AddAssetIfMissing([]asset.Asset{asset.NewOption(asset.OptionInfo{
		UnderlyingSymbol: "VXX", LastTradeDate: "20240119", Right: asset.Call, Strike: 20, Multiplier: 100,
		Currency: "USD", Underlying: vxx.(*asset.Stock),
	})})
	if len(added) != 1 {
		t.Fatalf("AddAssetIfMissing() added %d want 1", len(added))
	}
	option := added[0]
	if option.ID() != asset.NewID(asset.TypeOption, 1) {
		t.Errorf("option id = %v want %v", option.ID(), asset.NewID(asset.TypeOption, 1))
	}
	spy, _ := db.ByTicker("S/SPY")
	spy.Last().Store(480, monday)

	st.mu.Lock()
	st.changed = true
	st.mu.Unlock()
	changed, err = db.Reload(ctx)
	if err != nil || !changed {
		t.Fatalf("Reload() = %v, %v want a change", changed, err)
	}
	got, err := db.Get(option.ID())
	if err != nil || got != option {
		t.Errorf("runtime option after reload = %v, %v", got, err)
	}
	spy2, _ := db.ByTicker("S/SPY")
	if spy2 == spy {
		t.Error("SPY was not reloaded")
	}
	if q := spy2.Last().Load(); q.Value != 480 {
		t.Errorf("SPY last after reload = %v want 480", q.Value)
	}

	st.mu.Lock()
	st.err = errors.New("timeout")
	st.mu.Unlock()
	before := db.Current()
	if _, err := db.Reload(ctx); err == nil {
		t.Error("Reload() want error when the store is down")
	}
	if db.Current() != before {
		t.Error("failed reload replaced the generation")
	}
}

func TestAddAssetIfMissingConcurrent(t *testing.T) {
	db := newTestDb(&fakeStore{}, &fakeHistory{})
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}
	vxx, _ := db.ByTicker("S/VXX")
	mark := db.Registry().Watermark(asset.TypeOption)
	before := db.Registry().Len()

	const callers = 16
	results := make([][]asset.Asset, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = db.AddAssetIfMissing([]asset.Asset{asset.NewOption(asset.OptionInfo{
				UnderlyingSymbol: "VXX", LastTradeDate: "20240119", Right: asset.Put, Strike: 15, Multiplier: 100,
				Currency: "USD", Underlying: vxx.(*asset.Stock),
			})})
		}()
	}
	wg.Wait()

	var winners []asset.Asset
	for _, added := range results {
		winners = append(winners, added...)
	}
	if len(winners) != 1 {
		t.Fatalf("AddAssetIfMissing() added the option %d times want once", len(winners))
	}
	if want := asset.NewID(asset.TypeOption, mark+1); winners[0].ID() != want {
		t.Errorf("option id = %v want %v", winners[0].ID(), want)
	}
	if got := db.Registry().Len(); got != before+1 {
		t.Errorf("registry holds %d assets want %d", got, before+1)
	}
	got, err := db.ByTicker(winners[0].Ticker())
	if err != nil || got != winners[0] {
		t.Errorf("ByTicker(%s) = %v, %v want the added option", winners[0].Ticker(), got, err)
	}
}

func TestReloadGate(t *testing.T) {
	h := &fakeHistory{}
	db := newTestDb(&fakeStore{changed: true}, h)
	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}

	h.started, h.block = make(chan struct{}), make(chan struct{})
	done := make(chan error)
	go func() {
		_, err := db.Reload(ctx)
		done <- err
	}()
	<-h.started
	if err := db.ReloadHistory(ctx); !errors.Is(err, ErrReloadInProgress) {
		t.Errorf("ReloadHistory() during a reload error = %v want ErrReloadInProgress", err)
	}
	if !db.Status().Reloading {
		t.Error("Status() does not report the running reload")
	}
	close(h.block)
	if err := <-done; err != nil {
		t.Errorf("Reload() unexpected error = %v", err)
	}
	h.block = nil

	if err := db.ReloadHistory(ctx); err != nil {
		t.Errorf("ReloadHistory() unexpected error = %v", err)
	}
	if !db.Fired(EventHistoricalDataReloaded) {
		t.Error("EventHistoricalDataReloaded not raised")
	}
}

// An asset present before and after a reload is always found, reading the
// registry then the series without the consistency accessor.
func TestNoTransientDisappearance(t *testing.T) {
	db := newTestDb(&fakeStore{changed: true}, &fakeHistory{})
	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if _, err := db.Reload(ctx); err != nil {
				t.Errorf("Reload() unexpected error = %v", err)
				return
			}
		}
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		a, err := db.Registry().ByTicker("S/SPY")
		if err != nil {
			t.Errorf("S/SPY disappeared: %v", err)
			break
		}
		if !db.Series().Has(a.ID()) {
			t.Errorf("history of S/SPY disappeared")
			break
		}
	}
	<-done
}

func TestBrokerAccounts(t *testing.T) {
	gw := broker.NewStatic(broker.StaticConfig{
		ID:   "gw1",
		Sums: broker.AccountSums{NetLiquidation: 1000},
		Positions: []broker.Position{
			{Contract: broker.Contract{Symbol: "SPY", SecType: broker.SecStock, Currency: "USD"}, Quantity: 10},
			{Contract: broker.Contract{Symbol: "VXX", SecType: broker.SecOption, Currency: "USD", LastTradeDate: "20240119", Right: "C", Strike: 20, Multiplier: "100"}, Quantity: -1},
			{Contract: broker.Contract{Symbol: "ES", SecType: "FUT", Currency: "USD"}, Quantity: 1},
		},
	})
	down := broker.NewStatic(broker.StaticConfig{ID: "gw2"})
	down.Fail(errors.New("not connected"))
	db := newTestDb(&fakeStore{}, &fakeHistory{}, WithGateways(gw, down))
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}

	accounts := db.Accounts()
	if len(accounts) != 1 {
		t.Fatalf("Accounts() = %d accounts want 1", len(accounts))
	}
	acc := accounts[0]
	option, err := db.ByTicker("O/VXX*20240119C20")
	if err != nil {
		t.Fatalf("option not added: %v", err)
	}
	if acc.Positions[1].AssetID != option.ID() {
		t.Errorf("option position id = %v want %v", acc.Positions[1].AssetID, option.ID())
	}
	if len(acc.Unrecognized) != 1 || acc.Unrecognized[0].SecType != "FUT" {
		t.Errorf("Unrecognized = %v want the future", acc.Unrecognized)
	}
	if q := acc.Nav.Last().Load(); q.Value != 1000 {
		t.Errorf("NAV last = %v want 1000", q.Value)
	}
	if err := db.RefreshAccount(context.Background(), "gw9"); !errors.Is(err, ErrUnknownGateway) {
		t.Errorf("RefreshAccount(unknown) error = %v want ErrUnknownGateway", err)
	}
}

func TestSaveNavCloses(t *testing.T) {
	st := &fakeStore{}
	db := newTestDb(st, &fakeHistory{})
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}
	primary, _ := db.ByTicker("N/JD.IM")
	second, _ := db.ByTicker("N/JD.ID")
	st.raw = map[asset.ID]string{primary.ID(): "D/C,20240105/1200"}
	primary.Last().Store(1234, monday)
	second.Last().Store(99, monday.Add(-72*time.Hour))

	n, err := db.SaveNavCloses(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("SaveNavCloses() = %d, %v want 1", n, err)
	}
	if got, want := st.raw[primary.ID()], "D/C,20240105/1200,20240108/1234"; got != want {
		t.Errorf("raw quotes = %q want %q", got, want)
	}
	if _, ok := st.raw[second.ID()]; ok {
		t.Error("stale NAV value saved")
	}
}

func TestStatus(t *testing.T) {
	db := newTestDb(&fakeStore{}, &fakeHistory{})
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Init() unexpected error = %v", err)
	}
	s := db.Status()
	if s.Assets != 5 || s.Users != 1 || s.Runtime != 1 {
		t.Errorf("Status() assets=%d users=%d runtime=%d want 5, 1, 1", s.Assets, s.Users, s.Runtime)
	}
	if s.Dates != 2 || s.Newest != date.New(2024, 1, 5) {
		t.Errorf("Status() dates=%d newest=%v", s.Dates, s.Newest)
	}
	if s.Session != realtime.Post {
		t.Errorf("Status() session = %v want Post", s.Session)
	}
	if s.MemUsed <= 0 {
		t.Errorf("Status() mem used = %d", s.MemUsed)
	}
	var fired []Event
	for _, r := range s.Ready {
		if r.Fired {
			fired = append(fired, r.Event)
		}
	}
	if want := []Event{EventInitNoHistoryYet, EventBrokersConnected, EventFullDataReloaded}; !slices.Equal(fired, want) {
		t.Errorf("Status() fired events = %v want %v", fired, want)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memdb.yaml")
	err := os.WriteFile(path, []byte(`
listen: ":9090"
realtime:
  high:
    rth: 10s
    oth: 1m
history:
  schedule: ["0 5 * * *"]
  retry:
    attempts: 5
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("IEX_TOKENS", "tok1, tok2,")
	t.Setenv("MEMDB_REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error = %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Realtime.High.RTH != 10*time.Second {
		t.Errorf("LoadConfig() listen=%q high=%v", cfg.Listen, cfg.Realtime.High.RTH)
	}
	// untouched values keep their default
	if cfg.Realtime.Low.RTH != 30*time.Minute || cfg.Reload != "@every 1h" {
		t.Errorf("LoadConfig() low=%v reload=%q", cfg.Realtime.Low.RTH, cfg.Reload)
	}
	if cfg.History.Retry.Attempts != 5 || len(cfg.History.Schedule) != 1 {
		t.Errorf("LoadConfig() history = %+v", cfg.History)
	}
	if got := cfg.Env.Tokens(); len(got) != 2 || got[1] != "tok2" {
		t.Errorf("Tokens() = %q", got)
	}
	if cfg.Env.RedisURL != "redis://cache:6379/1" {
		t.Errorf("RedisURL = %q", cfg.Env.RedisURL)
	}

	os.WriteFile(path, []byte(`history: {schedule: ["every day"]}`), 0o644)
	if _, err := LoadConfig(path, ""); err == nil {
		t.Error("LoadConfig() want error on an invalid schedule")
	}
}
