package memdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/history"
	"github.com/etnz/memdb/store"
	"github.com/etnz/memdb/timeseries"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Init loads the database in stages, raising an event after each:
//
//  1. users and assets are published with an empty time series
//     (EventInitNoHistoryYet);
//  2. broker accounts are connected while the history is built;
//  3. the history is published (EventFullDataReloaded).
//
// Init fails only when the backing store cannot be read. A failed history
// build is logged and leaves the time series empty until the next reload.
func (m *MemDb) Init(ctx context.Context) error {
	if !m.reloading.CompareAndSwap(false, true) {
		return ErrReloadInProgress
	}
	defer m.reloading.Store(false)
	id, start := uuid.NewString(), m.now()
	log := m.log.WithField("reload", id)

	data, _, err := m.store.GetDataIfReloadNeeded(ctx)
	if err != nil {
		err = fmt.Errorf("cannot load users and assets: %w", err)
		m.finish("init", id, start, history.Report{}, err)
		return err
	}
	reg := m.buildRegistry(data, log)
	gen := m.publish(func(cur *Generation) *Generation {
		return &Generation{Users: data.Users, Registry: m.withRuntime(cur.Registry, reg, log), Series: timeseries.Empty}
	})
	log.Infof("1/4-ready: %d users, %d assets", len(gen.Users), gen.Registry.Len())
	m.events.raise(EventInitNoHistoryYet)

	var (
		snap   *timeseries.Snapshot
		report history.Report
		g      errgroup.Group
	)
	g.Go(func() error {
		m.connectBrokers(ctx, log)
		log.Infof("2/4-ready: %d broker accounts", len(m.gateways))
		m.events.raise(EventBrokersConnected)
		return nil
	})
	g.Go(func() error {
		var err error
		snap, report, err = m.hist.Build(ctx, reg, timeseries.Empty)
		if err != nil {
			return err
		}
		log.Infof("3/4-ready: history of %d assets over %d dates", report.Assets, report.Dates)
		return nil
	})
	err = g.Wait()
	if ctx.Err() != nil {
		m.finish("init", id, start, report, ctx.Err())
		return ctx.Err()
	}
	if err != nil {
		log.WithError(err).Error("no history available")
	} else {
		m.publishSeries(snap)
		m.seed(ctx, log)
	}
	m.finish("init", id, start, report, err)
	log.Info("full-ready")
	m.events.raise(EventFullDataReloaded)
	return nil
}

// Reload rebuilds everything when the backing store changed, and reports
// whether it did. The previous generation stays published until the new one
// is complete, and entirely when the store cannot be read.
func (m *MemDb) Reload(ctx context.Context) (bool, error) {
	if !m.reloading.CompareAndSwap(false, true) {
		return false, ErrReloadInProgress
	}
	defer m.reloading.Store(false)
	id, start := uuid.NewString(), m.now()
	log := m.log.WithField("reload", id)

	data, changed, err := m.store.GetDataIfReloadNeeded(ctx)
	if err != nil {
		err = fmt.Errorf("cannot check the backing store: %w", err)
		m.finish("full", id, start, history.Report{}, err)
		return false, err
	}
	if !changed {
		log.Debug("backing store unchanged")
		return false, nil
	}

	reg := m.buildRegistry(data, log)
	prev := m.Series()
	snap, report, err := m.hist.Build(ctx, reg, prev)
	switch {
	case ctx.Err() != nil:
		m.finish("full", id, start, report, ctx.Err())
		return false, ctx.Err()
	case err != nil:
		// new assets, old series: ids of removed assets are just never read
		log.WithError(err).Warn("history not rebuilt, keeping the previous one")
		snap = prev
	}
	m.publish(func(cur *Generation) *Generation {
		next := m.withRuntime(cur.Registry, reg, log)
		carryQuotes(cur.Registry, next)
		return &Generation{Users: data.Users, Registry: next, Series: snap}
	})
	m.seed(ctx, log)
	m.finish("full", id, start, report, err)
	m.events.raise(EventFullDataReloaded)
	return true, nil
}

// ReloadHistory rebuilds the time series of the current registry.
func (m *MemDb) ReloadHistory(ctx context.Context) error {
	if !m.reloading.CompareAndSwap(false, true) {
		return ErrReloadInProgress
	}
	defer m.reloading.Store(false)
	id, start := uuid.NewString(), m.now()
	log := m.log.WithField("reload", id)

	cur := m.Current()
	snap, report, err := m.hist.Build(ctx, cur.Registry, cur.Series)
	if err != nil {
		if errors.Is(err, history.ErrNoData) {
			log.Warn("no history available, keeping the previous series")
		}
		m.finish("history", id, start, report, err)
		return fmt.Errorf("cannot rebuild history: %w", err)
	}
	m.publishSeries(snap)
	if n := history.SeedPriorCloses(m.Registry(), snap, m.loc); n > 0 {
		log.Infof("%d prior closes seeded from history", n)
	}
	m.finish("history", id, start, report, nil)
	m.events.raise(EventHistoricalDataReloaded)
	return nil
}

// Reloading reports whether a reload is running.
func (m *MemDb) Reloading() bool { return m.reloading.Load() }

func (m *MemDb) publishSeries(snap *timeseries.Snapshot) {
	m.publish(func(cur *Generation) *Generation {
		return &Generation{Users: cur.Users, Registry: cur.Registry, Series: snap}
	})
}

// seed fills the prior closes from history and polls the slow tiers so
// that every asset has a value.
func (m *MemDb) seed(ctx context.Context, log *logrus.Entry) {
	if n := history.SeedPriorCloses(m.Registry(), m.Series(), m.loc); n > 0 {
		log.Infof("%d prior closes seeded from history", n)
	}
	if m.rt == nil {
		return
	}
	if err := m.rt.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial quote refresh incomplete")
	}
}

func (m *MemDb) finish(kind, id string, start time.Time, report history.Report, err error) {
	took := m.now().Sub(start)
	info := reloadInfo{ID: id, Kind: kind, At: start, Took: took, Build: report}
	log := m.log.WithField("reload", id).WithField("kind", kind).WithField("took", took)
	if err != nil {
		info.Err = err.Error()
		log.WithError(err).Warn("reload failed")
	} else {
		log.Infof("reload done: %d assets, %d reused, %d failed", report.Assets, len(report.Reused), len(report.Failed))
	}
	m.lastMu.Lock()
	m.lastReload = info
	m.lastMu.Unlock()
	if m.obs != nil {
		m.obs.ObserveReload(kind, took, err)
	}
}

// buildRegistry indexes the loaded assets and the aggregated NAVs of their
// users. Invalid records are logged and left out.
func (m *MemDb) buildRegistry(data *store.Data, log *logrus.Entry) *asset.Registry {
	assets := slices.Clone(data.Assets)
	var navs []*asset.BrokerNav
	for _, a := range assets {
		if n, ok := a.(*asset.BrokerNav); ok {
			navs = append(navs, n)
		}
	}
	for _, agg := range asset.AggregateNavs(navs) {
		assets = append(assets, agg)
	}
	reg, err := asset.Build(assets)
	if err != nil {
		var n int
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			n = len(j.Unwrap())
		}
		log.WithError(err).Warnf("%d inconsistent asset records left out", n)
	}
	return reg
}

// withRuntime adds to next the assets added at runtime to cur, keeping their
// ids, unless next already defines their ticker or uses their id.
func (m *MemDb) withRuntime(cur, next *asset.Registry, log *logrus.Entry) *asset.Registry {
	var carried []asset.Asset
	for _, a := range cur.Assets() {
		if a.Persisted() {
			continue
		}
		if n, ok := a.(*asset.BrokerNav); ok && n.IsAggregated() {
			continue
		}
		if _, ok := next.TryByTicker(a.Ticker()); ok {
			continue
		}
		if other, ok := next.TryGet(a.ID()); ok {
			log.WithField("ticker", a.Ticker()).Warnf("runtime asset dropped: id %v now used by %s", a.ID(), other.Ticker())
			continue
		}
		carried = append(carried, a)
	}
	reg, _ := next.WithMissing(carried)
	return reg
}

// carryQuotes copies the real-time values of the assets of from to the
// assets of to with the same ticker.
func carryQuotes(from, to *asset.Registry) {
	for _, a := range to.Assets() {
		old, ok := from.TryByTicker(a.Ticker())
		if !ok || old == a {
			continue
		}
		if q := old.Last().Load(); q.Valid() {
			a.Last().StoreIfEmpty(q.Value, q.Time)
		}
		if q := old.PriorClose().Load(); q.Valid() {
			a.PriorClose().StoreIfEmpty(q.Value, q.Time)
		}
	}
}

// IsReloadInProgress reports whether err is ErrReloadInProgress.
func IsReloadInProgress(err error) bool { return errors.Is(err, ErrReloadInProgress) }
