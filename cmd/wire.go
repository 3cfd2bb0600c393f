package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/etnz/memdb"
	"github.com/etnz/memdb/broker"
	"github.com/etnz/memdb/eodhd"
	"github.com/etnz/memdb/history"
	"github.com/etnz/memdb/iex"
	"github.com/etnz/memdb/metrics"
	"github.com/etnz/memdb/nasdaq"
	"github.com/etnz/memdb/realtime"
	"github.com/etnz/memdb/store"
	"github.com/etnz/memdb/yahoo"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// app is a fully wired database with its collaborators.
type app struct {
	db      *memdb.MemDb
	rt      *realtime.Multiplexer
	metrics *metrics.Metrics
	store   *store.Store
	redis   *redis.Client
	log     *logrus.Entry
}

// wire connects the backing store and assembles the providers, the
// real-time multiplexer and the database. Nothing is loaded yet.
func wire(ctx context.Context, cfg memdb.Config, log *logrus.Entry) (*app, error) {
	rs, rc, err := store.DialRedis(ctx, cfg.Env.RedisURL, log)
	if err != nil {
		return nil, err
	}
	st := &store.Store{Redis: rs}
	if cfg.Env.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Env.PostgresDSN)
		if err != nil {
			rc.Close()
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			rc.Close()
			pg.Close()
			return nil, fmt.Errorf("cannot migrate postgres: %w", err)
		}
		st.SQL = pg
	}

	m := metrics.New()
	client := &http.Client{Timeout: cfg.Realtime.Timeout}

	var eodOpts []eodhd.Option
	if cfg.Providers.EodhdURL != "" {
		eodOpts = append(eodOpts, eodhd.WithBaseURL(cfg.Providers.EodhdURL))
	}
	eod := eodhd.New(cfg.Env.EodhdAPIKey, cfg.CacheDir, log, eodOpts...)
	hist := &history.Reconciler{
		Prices:    eod,
		Splits:    eod,
		Calendar:  nasdaq.New(cfg.Providers.NasdaqURL, client, log),
		Quotes:    st,
		Deposits:  st,
		Overrides: st,
		Retry:     cfg.History.Retry,
		Workers:   cfg.History.Workers,
		Log:       log.WithField("component", "history"),
		Location:  realtime.NewYork,
	}

	var gateways []broker.Gateway
	byID := make(map[string]broker.Gateway)
	for _, gc := range cfg.Gateways {
		gw := broker.NewStatic(gc)
		gateways = append(gateways, gw)
		byID[gw.ID()] = gw
	}

	rtOpts := []realtime.Option{
		realtime.WithLogger(log.WithField("component", "realtime")),
		realtime.WithObserver(m),
		realtime.WithNavSource(&broker.NavSource{Gateways: byID}),
	}
	if tokens := cfg.Env.Tokens(); len(tokens) > 0 {
		rtOpts = append(rtOpts, realtime.WithLowLatency(iex.New(cfg.Providers.IexURL, tokens, cfg.Providers.IexLimits, client, log)))
	} else {
		log.Warn("no IEX token: every tier polls the batch provider")
	}
	rt := realtime.New(cfg.Realtime, yahoo.New(cfg.Providers.YahooURL, client, log), rtOpts...)

	db := memdb.New(cfg, st, hist,
		memdb.WithLogger(log),
		memdb.WithRealtime(rt),
		memdb.WithGateways(gateways...),
		memdb.WithObserver(m),
	)
	return &app{db: db, rt: rt, metrics: m, store: st, redis: rc, log: log}, nil
}

func (a *app) Close() error {
	a.db.Stop()
	if a.store.SQL != nil {
		a.store.SQL.Close()
	}
	return a.redis.Close()
}
