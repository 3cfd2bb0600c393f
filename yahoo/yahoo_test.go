package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/etnz/memdb/realtime"
)

const response = `{"quoteResponse":{"result":[
	{"symbol":"SPY","marketState":"PRE","regularMarketPrice":470.5,"regularMarketPreviousClose":468.0,"preMarketPrice":472.0,"preMarketChange":1.5,"postMarketPrice":470.9},
	{"symbol":"TLT","marketState":"PRE","regularMarketPrice":95.2,"regularMarketPreviousClose":94.8},
	{"symbol":"^VIX","regularMarketPrice":13.1,"regularMarketPreviousClose":0}
],"error":null}}`

func newServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQuotes(t *testing.T) {
	var requests atomic.Int32
	srv := newServer(t, &requests)
	c := New(srv.URL, srv.Client(), nil)

	tests := []struct {
		session      realtime.Session
		wantSPY      float64
		wantSPYPrior float64
		wantTLT      float64
		wantTLTPrior float64
	}{
		{realtime.RTH, 470.5, 468.0, 95.2, 94.8},
		{realtime.Pre, 472.0, 470.5, 95.2, 95.2}, // prior close from the pre-market change
		{realtime.PrePre, 470.9, 470.5, 95.2, 95.2},
		{realtime.Post, 470.9, 468.0, 95.2, 94.8},
		{realtime.Closed, 470.9, 468.0, 95.2, 94.8},
	}
	for _, tt := range tests {
		got, err := c.Quotes(context.Background(), realtime.Request{Symbols: []string{"SPY", "TLT", "^VIX", "NOPE"}, Session: tt.session, PriorClose: true})
		if err != nil {
			t.Fatalf("Quotes(%v) unexpected error = %v", tt.session, err)
		}
		if len(got) != 3 {
			t.Errorf("Quotes(%v) = %d quotes want 3", tt.session, len(got))
		}
		if v := got["SPY"].Last; v != tt.wantSPY {
			t.Errorf("Quotes(%v) SPY last = %v want %v", tt.session, v, tt.wantSPY)
		}
		if v := got["SPY"].PriorClose; v != tt.wantSPYPrior {
			t.Errorf("Quotes(%v) SPY prior = %v want %v", tt.session, v, tt.wantSPYPrior)
		}
		if v := got["TLT"].Last; v != tt.wantTLT {
			t.Errorf("Quotes(%v) TLT last = %v want %v", tt.session, v, tt.wantTLT)
		}
		if v := got["TLT"].PriorClose; v != tt.wantTLTPrior {
			t.Errorf("Quotes(%v) TLT prior = %v want %v", tt.session, v, tt.wantTLTPrior)
		}
	}
	// the zero is passed through, the multiplexer rejects it
	got, _ := c.Quotes(context.Background(), realtime.Request{Symbols: []string{"^VIX"}, PriorClose: true})
	if _, err := realtime.ParsePrice(got["^VIX"].PriorClose); err == nil {
		t.Error("a zero prior close must not parse")
	}
}

func TestQuotesChunks(t *testing.T) {
	var requests atomic.Int32
	srv := newServer(t, &requests)
	c := New(srv.URL, srv.Client(), nil)

	symbols := make([]string, MaxSymbols+1)
	for i := range symbols {
		symbols[i] = "S" + strings.Repeat("X", i%5)
	}
	if _, err := c.Quotes(context.Background(), realtime.Request{Symbols: symbols}); err != nil {
		t.Fatalf("Quotes() unexpected error = %v", err)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("Quotes() made %d requests want 2", n)
	}
}

func TestQuotesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := New(srv.URL, srv.Client(), nil)
	if _, err := c.Quotes(context.Background(), realtime.Request{Symbols: []string{"SPY"}}); err == nil {
		t.Error("Quotes() want error on 401")
	}
}
