package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePoll(t *testing.T) {
	m := New()
	m.ObservePoll("high", "batch", 12, 300*time.Millisecond, nil)
	m.ObservePoll("high", "batch", 12, time.Second, errors.New("timeout"))
	m.ObservePoll("low", "batch", 500, time.Second, nil)

	if got := testutil.ToFloat64(m.polls.WithLabelValues("high", "batch", "ok")); got != 1 {
		t.Errorf("high ok polls = %v want 1", got)
	}
	if got := testutil.ToFloat64(m.polls.WithLabelValues("high", "batch", "error")); got != 1 {
		t.Errorf("high error polls = %v want 1", got)
	}
	if got := testutil.ToFloat64(m.tierAssets.WithLabelValues("low")); got != 500 {
		t.Errorf("low tier assets = %v want 500", got)
	}
}

func TestObserveReload(t *testing.T) {
	m := New()
	m.ObserveReload("full", time.Second, nil)
	m.ObserveGeneration(3, 1200, 1500, 1<<20)
	if got := testutil.ToFloat64(m.reloads.WithLabelValues("full", "ok")); got != 1 {
		t.Errorf("full reloads = %v want 1", got)
	}
	if got := testutil.ToFloat64(m.generation); got != 3 {
		t.Errorf("generation = %v want 3", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	h := m.Instrument("status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `memdb_http_requests_total{method="GET",route="status",status="503"} 1`) {
		t.Errorf("/metrics does not count the request:\n%s", body)
	}
}
