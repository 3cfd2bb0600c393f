package asset

import (
	"errors"
	"testing"
)

func testAssets() []Asset {
	comp := NewCompany(NewID(TypeCompany, 1), "VOD", "Vodafone", "", "")
	return []Asset{
		NewCash(NewID(TypeCurrencyCash, 1), "USD", "US Dollar"),
		comp,
		NewStock(NewID(TypeStock, 1), StockInfo{Symbol: "SPY", Name: "SPDR S&P 500", Exchange: "ARCA"}),
		NewStock(NewID(TypeStock, 2), StockInfo{Symbol: "VOD", Exchange: "LSE", Currency: "GBP", Company: comp}),
		NewStock(NewID(TypeStock, 5), StockInfo{Symbol: "VOD", Exchange: "NASDAQ", Company: comp}),
	}
}

func TestBuild(t *testing.T) {
	r, err := Build(testAssets())
	if err != nil {
		t.Fatalf("Build() unexpected error = %v", err)
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d want 5", r.Len())
	}
	// every asset is reachable by id and ticker, and both give the same record
	ids, tickers := map[ID]bool{}, map[string]bool{}
	for _, a := range r.Assets() {
		if ids[a.ID()] || tickers[a.Ticker()] {
			t.Errorf("duplicate id %v or ticker %q", a.ID(), a.Ticker())
		}
		ids[a.ID()], tickers[a.Ticker()] = true, true
		byID, err := r.Get(a.ID())
		if err != nil {
			t.Fatalf("Get(%v) unexpected error = %v", a.ID(), err)
		}
		byTicker, err := r.ByTicker(a.Ticker())
		if err != nil {
			t.Fatalf("ByTicker(%q) unexpected error = %v", a.Ticker(), err)
		}
		if byID != byTicker {
			t.Errorf("Get(%v) and ByTicker(%q) disagree", a.ID(), a.Ticker())
		}
	}
	// the company and both listings share the symbol
	vod := r.BySymbol("VOD")
	if len(vod) != 3 {
		t.Errorf("BySymbol(VOD) = %d assets want 3", len(vod))
	}
	counts := map[Type]int{}
	for _, a := range vod {
		counts[a.Type()]++
	}
	if counts[TypeCompany] != 1 || counts[TypeStock] != 2 {
		t.Errorf("BySymbol(VOD) types = %v want 1 company and 2 stocks", counts)
	}
	if got := r.Watermark(TypeStock); got != 5 {
		t.Errorf("Watermark(Stock) = %d want 5", got)
	}
	if got := len(OfType[*Stock](r)); got != 3 {
		t.Errorf("OfType[*Stock] = %d want 3", got)
	}
	if _, err := r.ByTicker("S/NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByTicker(unknown) error = %v want ErrNotFound", err)
	}
	if _, ok := r.TryGet(NewID(TypeStock, 99)); ok {
		t.Error("TryGet(unknown) = true")
	}
}

func TestBuildSkipsBadRecords(t *testing.T) {
	assets := append(testAssets(),
		NewStock(NewID(TypeStock, 1), StockInfo{Symbol: "QQQ"}),                  // id reused
		NewStock(NewID(TypeStock, 9), StockInfo{Symbol: "SPY", Exchange: "ARCA"}), // ticker reused
		NewBrokerNav(NewID(TypeBrokerNAV, 1), "DC.IM", "IB", "USD", nil, ""),      // no user
	)
	r, err := Build(assets)
	if err == nil {
		t.Fatal("Build() expected an error")
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Build() error = %v want ErrDuplicate", err)
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d want the 5 valid records", r.Len())
	}
}

func TestWithMissing(t *testing.T) {
	r, _ := Build(testAssets())
	spy, _ := r.ByTicker("S/SPY^A")
	opt := NewOption(OptionInfo{UnderlyingSymbol: "SPY", LastTradeDate: "20250117", Right: Put, Strike: 400, Underlying: spy.(*Stock)})
	dup := NewOption(OptionInfo{UnderlyingSymbol: "SPY", LastTradeDate: "20250117", Right: Put, Strike: 400, Underlying: spy.(*Stock)})

	next, added := r.WithMissing([]Asset{opt, dup, spy})
	if len(added) != 1 || added[0] != opt {
		t.Fatalf("WithMissing() added = %v want only the first option", added)
	}
	if next == r {
		t.Fatal("WithMissing() returned the same registry")
	}
	if r.Len() != 5 {
		t.Errorf("original registry modified: Len() = %d", r.Len())
	}
	if _, ok := r.TryByTicker(opt.Ticker()); ok {
		t.Error("original registry sees the new option")
	}
	if opt.ID() != NewID(TypeOption, 1) {
		t.Errorf("new option id = %v want %v", opt.ID(), NewID(TypeOption, 1))
	}
	if got, err := next.Get(opt.ID()); err != nil || got != opt {
		t.Errorf("next.Get(%v) = %v, %v", opt.ID(), got, err)
	}

	again, added := next.WithMissing([]Asset{dup})
	if again != next || len(added) != 0 {
		t.Errorf("WithMissing() of an existing ticker changed the registry")
	}

	other := NewOption(OptionInfo{UnderlyingSymbol: "SPY", LastTradeDate: "20250117", Right: Call, Strike: 500, Underlying: spy.(*Stock)})
	last, _ := next.WithMissing([]Asset{other})
	if other.ID().SubTableID() != 2 || last.Watermark(TypeOption) != 2 {
		t.Errorf("second option id = %v want sub table id 2", other.ID())
	}
}

func TestAggregateNavs(t *testing.T) {
	dc := &User{ID: 33, Username: "drcharmat", Initials: "DC"}
	bl := &User{ID: 40, Username: "blukucz", Initials: "BL"}
	navs := []*BrokerNav{
		NewBrokerNav(NewID(TypeBrokerNAV, 1), "DC.IM", "IB main", "USD", dc, "gw1"),
		NewBrokerNav(NewID(TypeBrokerNAV, 2), "DC.ID", "IB de blanzac", "USD", dc, "gw2"),
		NewBrokerNav(NewID(TypeBrokerNAV, 3), "BL.IM", "IB main", "USD", bl, "gw3"),
	}
	aggs := AggregateNavs(navs)
	if len(aggs) != 1 {
		t.Fatalf("AggregateNavs() = %d aggregates want 1", len(aggs))
	}
	agg := aggs[0]
	if !agg.IsAggregated() || len(agg.Children()) != 2 {
		t.Errorf("aggregate has %d children want 2", len(agg.Children()))
	}
	if agg.ID() != NewID(TypeBrokerNAV, AggregatedNavBase+33) || agg.Ticker() != "N/DC" {
		t.Errorf("aggregate = %v %q", agg.ID(), agg.Ticker())
	}
	if navs[0].Parent() != agg || navs[2].Parent() != nil {
		t.Error("children not linked to their aggregate")
	}
	if navs[2].IsAggregated() {
		t.Error("plain NAV reported as aggregated")
	}
}

func TestResolve(t *testing.T) {
	r, err := Build(testAssets())
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		ticker string
		want   ID
		ok     bool
	}{
		{"S/SPY^A", NewID(TypeStock, 1), true},
		{"S/SPY", NewID(TypeStock, 1), true},
		{"S/VOD", NewID(TypeStock, 2), true},
		{"A/VOD", NewID(TypeCompany, 1), true},
		{"S/NOPE", Invalid, false},
		{"SPY", Invalid, false},
	}
	for _, tt := range tests {
		a, ok := r.Resolve(tt.ticker)
		if ok != tt.ok {
			t.Errorf("Resolve(%q) ok = %v want %v", tt.ticker, ok, tt.ok)
			continue
		}
		if ok && a.ID() != tt.want {
			t.Errorf("Resolve(%q) = %v want %v", tt.ticker, a.ID(), tt.want)
		}
	}
}
