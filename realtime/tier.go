package realtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Tier is a polling frequency class.
type Tier uint8

const (
	High Tier = iota
	Mid
	Low
	NavHigh
	NavLow
	numTiers
)

// Tiers lists every tier in order.
var Tiers = []Tier{High, Mid, Low, NavHigh, NavLow}

func (t Tier) String() string {
	switch t {
	case High:
		return "High"
	case Mid:
		return "Mid"
	case Low:
		return "Low"
	case NavHigh:
		return "NavHigh"
	case NavLow:
		return "NavLow"
	}
	return fmt.Sprintf("Tier(%d)", uint8(t))
}

// IsNav reports whether t polls broker NAVs rather than market prices.
func (t Tier) IsNav() bool { return t == NavHigh || t == NavLow }

// Provider selects the quote source of a poll.
type Provider uint8

const (
	// Batch is the delayed provider, able to quote every session.
	Batch Provider = iota
	// LowLatency is the quota limited real time provider.
	LowLatency
)

func (p Provider) String() string {
	if p == LowLatency {
		return "lowlatency"
	}
	return "batch"
}

func (p *Provider) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "batch", "":
		*p = Batch
	case "lowlatency", "low-latency":
		*p = LowLatency
	default:
		return fmt.Errorf("unknown quote provider %q want \"batch\" or \"lowlatency\"", text)
	}
	return nil
}

func (p Provider) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Policy chooses the provider of a tier in and outside regular hours.
type Policy struct {
	RTH Provider `yaml:"rth"`
	OTH Provider `yaml:"oth"`
}

// Choose returns the provider for session s.
func (p Policy) Choose(s Session) Provider {
	if s == RTH {
		return p.RTH
	}
	return p.OTH
}

// TierConfig is the schedule and provider policy of one tier.
type TierConfig struct {
	RTH    time.Duration `yaml:"rth"`
	OTH    time.Duration `yaml:"oth"`
	Policy Policy        `yaml:"policy"`
}

// Interval returns the delay to the next poll during session s.
func (c TierConfig) Interval(s Session) time.Duration {
	if s == RTH {
		return c.RTH
	}
	return c.OTH
}

// Config configures the Multiplexer.
type Config struct {
	High    TierConfig `yaml:"high"`
	Mid     TierConfig `yaml:"mid"`
	Low     TierConfig `yaml:"low"`
	NavHigh TierConfig `yaml:"nav_high"`
	NavLow  TierConfig `yaml:"nav_low"`

	// HighTickers and MidTickers are the fixed members of those tiers.
	HighTickers []string `yaml:"high_tickers"`
	MidTickers  []string `yaml:"mid_tickers"`
	// Promotion is how long a queried asset stays in the High tier.
	Promotion time.Duration `yaml:"promotion"`
	// Timeout bounds one poll.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	fast := Policy{RTH: LowLatency, OTH: Batch}
	return Config{
		High:    TierConfig{RTH: 30 * time.Second, OTH: 5 * time.Minute, Policy: fast},
		Mid:     TierConfig{RTH: 15 * time.Minute, OTH: 40 * time.Minute, Policy: fast},
		Low:     TierConfig{RTH: 30 * time.Minute, OTH: time.Hour},
		NavHigh: TierConfig{RTH: time.Minute, OTH: 10 * time.Minute},
		NavLow:  TierConfig{RTH: time.Hour, OTH: 3 * time.Hour},
		MidTickers: []string{
			"S/QQQ", "S/SPY", "S/GLD", "S/TLT", "S/VXX", "S/UNG", "S/USO",
			"S/VIXY", "S/TQQQ", "S/UPRO", "S/SVXY", "S/TMV", "S/UCO",
		},
		Promotion: 5 * time.Minute,
		Timeout:   time.Minute,
	}
}

// Tier returns the configuration of t.
func (c Config) Tier(t Tier) TierConfig {
	switch t {
	case High:
		return c.High
	case Mid:
		return c.Mid
	case Low:
		return c.Low
	case NavHigh:
		return c.NavHigh
	}
	return c.NavLow
}

// Validate checks that every interval is positive.
func (c Config) Validate() error {
	for _, t := range Tiers {
		if tc := c.Tier(t); tc.RTH <= 0 || tc.OTH <= 0 {
			return fmt.Errorf("tier %v: intervals must be positive, got rth=%v oth=%v", t, tc.RTH, tc.OTH)
		}
	}
	return nil
}

// schedule is a cron.Schedule whose next activation depends on the session
// at the time it is computed.
type schedule struct {
	cfg TierConfig
	loc *time.Location
}

var _ cron.Schedule = schedule{}

func (s schedule) Next(t time.Time) time.Time {
	return t.Add(s.cfg.Interval(SessionAt(t, s.loc)))
}
