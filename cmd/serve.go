package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

type serveCmd struct {
	listen string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "load the database and serve it over HTTP" }
func (*serveCmd) Usage() string {
	return `memdbd serve [-listen <addr>]

  Loads users, assets and history from the backing store, starts the
  real-time polling and the scheduled reloads, and serves:

    GET  /status            diagnostics (HTML, ?format=md or ?format=json)
    GET  /quote/<ticker>    cached real-time values
    GET  /history/<ticker>  daily closes, ?from=YYYY-MM-DD
    POST /reload            full reload, ?kind=history for the history only
    GET  /metrics           Prometheus metrics
    GET  /healthz           ready once fully loaded

  The server listens before the loading ends: /status shows its progress.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.listen, "listen", "", "Listen address. Overrides the configuration.")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.listen != "" {
		cfg.Listen = c.listen
	}
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("cannot start")
		return subcommands.ExitFailure
	}
	defer a.Close()

	srv := &http.Server{Addr: cfg.Listen, Handler: newRouter(a.db, a.metrics, log.WithField("component", "http"))}
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe() }()
	log.Infof("listening on %s", cfg.Listen)

	if err := a.db.Init(ctx); err != nil {
		log.WithError(err).Error("initial load failed")
		srv.Close()
		return subcommands.ExitFailure
	}
	if err := a.db.Start(ctx); err != nil {
		log.WithError(err).Error("cannot schedule the jobs")
		srv.Close()
		return subcommands.ExitFailure
	}

	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			return subcommands.ExitFailure
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.WithError(err).Warn("unclean shutdown")
		}
	}
	return subcommands.ExitSuccess
}
