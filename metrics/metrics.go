// Package metrics exposes the reload and polling activity of the database
// to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memdb"

// Metrics holds the collectors. It implements realtime.Observer.
type Metrics struct {
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	tierAssets   *prometheus.GaugeVec

	reloads        *prometheus.CounterVec
	reloadDuration *prometheus.HistogramVec
	generation     prometheus.Gauge
	assets         prometheus.Gauge
	dates          prometheus.Gauge
	seriesBytes    prometheus.Gauge

	httpRequests *prometheus.CounterVec
}

// New creates the collectors and registers them, with the process and Go
// runtime collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "polls_total",
				Help:      "Total number of tier polls.",
			},
			[]string{"tier", "provider", "status"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "poll_duration_seconds",
				Help:      "Duration of tier polls.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"tier"},
		),
		tierAssets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "tier_assets",
				Help:      "Number of assets fetched by the last poll of a tier.",
			},
			[]string{"tier"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reload",
				Name:      "total",
				Help:      "Total number of reloads.",
			},
			[]string{"kind", "status"},
		),
		reloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reload",
				Name:      "duration_seconds",
				Help:      "Duration of reloads.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
			},
			[]string{"kind"},
		),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Number of the published generation.",
		}),
		assets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets",
			Help:      "Number of assets in the published registry.",
		}),
		dates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "dates",
			Help:      "Length of the published date axis.",
		}),
		seriesBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "bytes",
			Help:      "Approximate memory used by the published time series.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.polls, m.pollDuration, m.tierAssets,
		m.reloads, m.reloadDuration, m.generation, m.assets, m.dates, m.seriesBytes,
		m.httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePoll records one tier poll.
func (m *Metrics) ObservePoll(tier, provider string, assets int, elapsed time.Duration, err error) {
	m.polls.WithLabelValues(tier, provider, status(err)).Inc()
	m.pollDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
	m.tierAssets.WithLabelValues(tier).Set(float64(assets))
}

// ObserveReload records one reload of the given kind ("init", "full", "history").
func (m *Metrics) ObserveReload(kind string, elapsed time.Duration, err error) {
	m.reloads.WithLabelValues(kind, status(err)).Inc()
	m.reloadDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveGeneration records the shape of a newly published generation.
func (m *Metrics) ObserveGeneration(gen uint64, assets, dates int, seriesBytes int64) {
	m.generation.Set(float64(gen))
	m.assets.Set(float64(assets))
	m.dates.Set(float64(dates))
	m.seriesBytes.Set(float64(seriesBytes))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument counts the requests served by next under the route name.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
