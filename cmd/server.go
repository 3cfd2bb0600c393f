package cmd

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/etnz/memdb"
	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/metrics"
	"github.com/etnz/memdb/realtime"
	"github.com/etnz/memdb/renderer"
	"github.com/etnz/memdb/timeseries"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// handler serves the database over HTTP.
type handler struct {
	db  *memdb.MemDb
	log *logrus.Entry
	now func() time.Time
}

// newRouter routes the diagnostics, quote and history endpoints. Tickers
// contain a slash and are matched as the rest of the path, e.g.
// /quote/S/SPY.
func newRouter(db *memdb.MemDb, m *metrics.Metrics, log *logrus.Entry) http.Handler {
	h := &handler{db: db, log: log, now: time.Now}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	route := func(method, pattern, name string, f http.HandlerFunc) {
		r.Method(method, pattern, m.Instrument(name, f))
	}
	route(http.MethodGet, "/healthz", "healthz", h.healthz)
	route(http.MethodGet, "/status", "status", h.status)
	route(http.MethodGet, "/quote/*", "quote", h.quote)
	route(http.MethodGet, "/history/*", "history", h.history)
	route(http.MethodPost, "/reload", "reload", h.reload)
	route(http.MethodPost, "/accounts/{gateway}/refresh", "refresh", h.refresh)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// wantsMarkdown selects the raw markdown output, used by the client commands.
func wantsMarkdown(r *http.Request) bool {
	return r.URL.Query().Get("format") == "md" || strings.Contains(r.Header.Get("Accept"), "text/markdown")
}

func (h *handler) write(w http.ResponseWriter, r *http.Request, title, md string) {
	if wantsMarkdown(r) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(md))
		return
	}
	page, err := renderer.HTML(title, md)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (h *handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("cannot write response")
	}
}

// healthz is ready once the first full load is published.
func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if !h.db.Fired(memdb.EventFullDataReloaded) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s := h.db.Status()
	if r.URL.Query().Get("format") == "json" {
		h.writeJSON(w, s)
		return
	}
	h.write(w, r, "MemDb status", renderer.StatusMarkdown(s))
}

// Quote is the JSON view of the real-time values of an asset.
type Quote struct {
	Ticker     string    `json:"ticker"`
	ID         string    `json:"id"`
	Last       *float64  `json:"last"`
	LastTime   time.Time `json:"last_time,omitzero"`
	PriorClose *float64  `json:"prior_close"`
}

func valueOf(q asset.Quote) *float64 {
	if !q.Valid() {
		return nil
	}
	return &q.Value
}

// quote serves the cached values: it never waits for a provider, and
// promotes the asset to the most frequent tier.
func (h *handler) quote(w http.ResponseWriter, r *http.Request) {
	a, err := h.db.ByTicker(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	last := h.db.GetLastRtValue(a.ID())[0]
	if n, ok := a.(*asset.BrokerNav); ok && n.IsAggregated() {
		last = realtime.NavQuote(n)
	}
	prior := a.PriorClose().Load()
	if r.URL.Query().Get("format") == "json" {
		h.writeJSON(w, Quote{Ticker: a.Ticker(), ID: a.ID().String(), Last: valueOf(last), LastTime: last.Time, PriorClose: valueOf(prior)})
		return
	}
	h.write(w, r, a.Ticker(), renderer.QuoteMarkdown(a, last, prior, h.now()))
}

// history serves the adjusted daily closes, newest first, down to the
// optional "from" date.
func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	gen := h.db.Current()
	a, ok := gen.Registry.Resolve(chi.URLParam(r, "*"))
	if !ok {
		http.Error(w, "unknown ticker "+chi.URLParam(r, "*"), http.StatusNotFound)
		return
	}
	dates := gen.Series.Dates()
	closes, ok := gen.Series.Values(a.ID(), timeseries.AdjClose)
	if !ok {
		dates, closes = nil, nil
	}
	if from := r.URL.Query().Get("from"); from != "" && len(dates) > 0 {
		on, err := date.Parse(from)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if i := gen.Series.IndexOfOnOrBefore(on); i >= 0 {
			if dates[i] == on {
				i++
			}
			dates, closes = dates[:i], closes[:i]
		}
	}
	if r.URL.Query().Get("format") == "json" {
		type point struct {
			Date  date.Date `json:"date"`
			Close *float64  `json:"close"`
		}
		points := make([]point, len(dates))
		for i, d := range dates {
			points[i].Date = d
			if v := float64(closes[i]); !math.IsNaN(v) {
				points[i].Close = &v
			}
		}
		h.writeJSON(w, points)
		return
	}
	h.write(w, r, a.Ticker(), renderer.HistoryMarkdown(a.Ticker(), a.Currency(), dates, closes))
}

// reload runs a full reload, or a history one with ?kind=history.
func (h *handler) reload(w http.ResponseWriter, r *http.Request) {
	var (
		changed = true
		err     error
	)
	if r.URL.Query().Get("kind") == "history" {
		err = h.db.ReloadHistory(r.Context())
	} else {
		changed, err = h.db.Reload(r.Context())
	}
	switch {
	case errors.Is(err, memdb.ErrReloadInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case !changed:
		w.Write([]byte("unchanged\n"))
	default:
		w.Write([]byte("reloaded\n"))
	}
}

// refresh reads the sums and positions of one broker gateway again.
func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	err := h.db.RefreshAccount(r.Context(), chi.URLParam(r, "gateway"))
	switch {
	case errors.Is(err, memdb.ErrUnknownGateway):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		w.Write([]byte("refreshed\n"))
	}
}
