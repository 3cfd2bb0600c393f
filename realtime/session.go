// Package realtime keeps the last value of the live assets fresh: it polls the
// quote providers in frequency tiers and serves cached values without I/O.
package realtime

import (
	"time"
)

// Session is the US market trading session at some instant.
type Session uint8

const (
	Closed Session = iota
	// PrePre is the night before the pre-market opens.
	PrePre
	Pre
	// RTH is the regular trading session.
	RTH
	Post
)

func (s Session) String() string {
	switch s {
	case PrePre:
		return "PrePre"
	case Pre:
		return "Pre"
	case RTH:
		return "RTH"
	case Post:
		return "Post"
	}
	return "Closed"
}

// NewYork is the exchange clock. It falls back to a fixed EST zone when the
// time zone database is missing.
var NewYork = loadLocation("America/New_York", -5*60*60)

func loadLocation(name string, offset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offset)
	}
	return loc
}

// SessionAt returns the session in effect at t on the loc clock.
// Holidays are not known and behave as trading days.
func SessionAt(t time.Time, loc *time.Location) Session {
	t = t.In(loc)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return Closed
	}
	switch minutes := t.Hour()*60 + t.Minute(); {
	case minutes < 4*60:
		return PrePre
	case minutes < 9*60+30:
		return Pre
	case minutes < 16*60:
		return RTH
	case minutes < 20*60:
		return Post
	}
	return Closed
}
