package memdb

import (
	"slices"
	"sync"
)

// Event is a readiness signal raised by the database.
type Event int

const (
	// EventInitNoHistoryYet: users and assets are published, the time series
	// is still empty.
	EventInitNoHistoryYet Event = iota + 1
	// EventBrokersConnected: broker accounts were connected once at startup.
	// History may still be loading.
	EventBrokersConnected
	// EventFullDataReloaded: everything is published, at startup and after
	// every full reload.
	EventFullDataReloaded
	// EventHistoricalDataReloaded: a history-only reload was published.
	EventHistoricalDataReloaded
)

func (e Event) String() string {
	switch e {
	case EventInitNoHistoryYet:
		return "init-no-history-yet"
	case EventBrokersConnected:
		return "brokers-connected"
	case EventFullDataReloaded:
		return "full-data-reloaded"
	case EventHistoricalDataReloaded:
		return "historical-data-reloaded"
	}
	return "unknown"
}

var allEvents = []Event{EventInitNoHistoryYet, EventBrokersConnected, EventFullDataReloaded, EventHistoricalDataReloaded}

type events struct {
	mu    sync.Mutex
	subs  []func(Event)
	ready map[Event]chan struct{}
	fired map[Event]bool
}

func newEvents() *events {
	e := &events{ready: make(map[Event]chan struct{}), fired: make(map[Event]bool)}
	for _, ev := range allEvents {
		e.ready[ev] = make(chan struct{})
	}
	return e
}

func (e *events) raise(ev Event) {
	e.mu.Lock()
	if !e.fired[ev] {
		e.fired[ev] = true
		close(e.ready[ev])
	}
	subs := slices.Clone(e.subs)
	e.mu.Unlock()
	for _, f := range subs {
		f(ev)
	}
}

// Subscribe calls f for every event raised from now on. f runs on the
// goroutine raising the event and must not block.
func (m *MemDb) Subscribe(f func(Event)) {
	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	m.events.subs = append(m.events.subs, f)
}

// Ready returns a channel closed the first time ev is raised.
func (m *MemDb) Ready(ev Event) <-chan struct{} {
	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	if ch, ok := m.events.ready[ev]; ok {
		return ch
	}
	// never raised
	return make(chan struct{})
}

// Fired reports whether ev was raised at least once.
func (m *MemDb) Fired(ev Event) bool {
	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	return m.events.fired[ev]
}
