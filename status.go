package memdb

import (
	"cmp"
	"slices"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/realtime"
)

// Status is a diagnostic view of the database.
type Status struct {
	Generation uint64
	Published  time.Time
	Now        time.Time

	Users      int
	HumanUsers int
	Assets     int
	// Runtime counts the assets added since the last load.
	Runtime int
	ByType  []TypeCount

	SeriesAssets   int
	Dates          int
	Newest, Oldest date.Date
	MemUsed        int64

	Tiers   []realtime.TierStatus
	Session realtime.Session

	Ready     []Readiness
	Reloading bool
	// LastReload describes the last reload attempt.
	LastReload ReloadStatus

	Accounts []AccountStatus
}

type TypeCount struct {
	Type  asset.Type
	Count int
}

type Readiness struct {
	Event Event
	Fired bool
}

type ReloadStatus struct {
	ID      string
	Kind    string
	At      time.Time
	Took    time.Duration
	Error   string
	Fetched int
	Reused  []string
	Failed  []string
	Splits  int
}

type AccountStatus struct {
	Gateway        string
	Nav            string
	NetLiquidation float64
	Positions      int
	Unrecognized   []string
	LastUpdate     time.Time
}

// Status collects the diagnostic view. It never blocks on a reload.
func (m *MemDb) Status() Status {
	gen := m.Current()
	now := m.now()
	s := Status{
		Generation:   gen.Number,
		Published:    gen.Published,
		Now:          now,
		Users:        len(gen.Users),
		Assets:       gen.Registry.Len(),
		SeriesAssets: gen.Series.NumAssets(),
		Dates:        gen.Series.Len(),
		MemUsed:      gen.Series.MemUsed(),
		Session:      realtime.SessionAt(now, m.loc),
		Reloading:    m.Reloading(),
	}
	for _, u := range gen.Users {
		if u.IsHuman() {
			s.HumanUsers++
		}
	}
	counts := make(map[asset.Type]int)
	for _, a := range gen.Registry.Assets() {
		counts[a.Type()]++
		if !a.Persisted() {
			s.Runtime++
		}
	}
	for t, n := range counts {
		s.ByType = append(s.ByType, TypeCount{Type: t, Count: n})
	}
	slices.SortFunc(s.ByType, func(a, b TypeCount) int { return cmp.Compare(a.Type, b.Type) })
	if gen.Series.Len() > 0 {
		s.Newest, s.Oldest = gen.Series.Range()
	}
	if m.rt != nil {
		s.Tiers = m.rt.Status()
	}
	for _, ev := range allEvents {
		s.Ready = append(s.Ready, Readiness{Event: ev, Fired: m.Fired(ev)})
	}

	m.lastMu.Lock()
	r := m.lastReload
	m.lastMu.Unlock()
	s.LastReload = ReloadStatus{
		ID: r.ID, Kind: r.Kind, At: r.At, Took: r.Took, Error: r.Err,
		Fetched: r.Build.Fetched, Reused: r.Build.Reused, Failed: r.Build.Failed, Splits: r.Build.Splits,
	}

	for _, acc := range m.Accounts() {
		as := AccountStatus{
			Gateway:        acc.GatewayID,
			NetLiquidation: acc.Sums.NetLiquidation,
			Positions:      len(acc.Positions),
			LastUpdate:     acc.LastUpdate,
		}
		if acc.Nav != nil {
			as.Nav = acc.Nav.Ticker()
		}
		for _, c := range acc.Unrecognized {
			as.Unrecognized = append(as.Unrecognized, c.String())
		}
		s.Accounts = append(s.Accounts, as)
	}
	return s
}
