package memdb

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/etnz/memdb/broker"
	"github.com/etnz/memdb/history"
	"github.com/etnz/memdb/iex"
	"github.com/etnz/memdb/realtime"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of a MemDb process.
type Config struct {
	Log    LogConfig `yaml:"log"`
	Listen string    `yaml:"listen"`
	// CacheDir holds the hourly cache of historical downloads.
	CacheDir string `yaml:"cache_dir"`

	Realtime  realtime.Config `yaml:"realtime"`
	History   HistoryConfig   `yaml:"history"`
	Providers ProviderConfig  `yaml:"providers"`

	// Reload is the cron spec of the backing store change check.
	Reload string `yaml:"reload"`
	// NavCloses is the cron spec saving the daily NAV closes.
	NavCloses string `yaml:"nav_closes"`

	Gateways []broker.StaticConfig `yaml:"gateways"`

	Env Env `yaml:"-"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// HistoryConfig configures the history reconciliation.
type HistoryConfig struct {
	// Schedule lists the cron specs of the history-only reloads, in
	// America/New_York time.
	Schedule []string      `yaml:"schedule"`
	Workers  int           `yaml:"workers"`
	Retry    history.Retry `yaml:"retry"`
}

// ProviderConfig overrides the provider endpoints.
type ProviderConfig struct {
	YahooURL  string     `yaml:"yahoo_url"`
	IexURL    string     `yaml:"iex_url"`
	IexLimits iex.Limits `yaml:"iex_limits"`
	EodhdURL  string     `yaml:"eodhd_url"`
	NasdaqURL string     `yaml:"nasdaq_url"`
}

// Env holds the secrets and endpoints read from the environment.
type Env struct {
	RedisURL    string `env:"MEMDB_REDIS_URL,default=redis://localhost:6379/0"`
	PostgresDSN string `env:"MEMDB_POSTGRES_DSN"`
	EodhdAPIKey string `env:"EODHD_API_KEY"`
	// IexTokens is a comma separated list.
	IexTokens string `env:"IEX_TOKENS"`
}

// Tokens splits IexTokens.
func (e Env) Tokens() []string {
	var tokens []string
	for _, t := range strings.Split(e.IexTokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Listen:   ":8080",
		Realtime: realtime.DefaultConfig(),
		History: HistoryConfig{
			Schedule: []string{"0 4 * * *", "0 9 * * *", "30 16 * * *"},
			Workers:  4,
			Retry:    history.DefaultRetry,
		},
		Providers: ProviderConfig{IexLimits: iex.DefaultLimits},
		Reload:    "@every 1h",
		NavCloses: "20 16 * * 1-5",
	}
}

// LoadConfig reads the YAML file at path over the defaults, then the
// environment, after loading envFile when it exists. An empty path keeps the
// defaults.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("cannot read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("cannot parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("cannot load %s: %w", envFile, err)
		}
	}
	if err := envdecode.Decode(&cfg.Env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the schedules and intervals.
func (c Config) Validate() error {
	if err := c.Realtime.Validate(); err != nil {
		return err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	specs := append([]string{c.Reload, c.NavCloses}, c.History.Schedule...)
	for _, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	if c.History.Retry.Attempts < 0 || c.History.Retry.Backoff < 0 {
		return fmt.Errorf("invalid history retry %+v", c.History.Retry)
	}
	if c.Realtime.Promotion > 24*time.Hour {
		return fmt.Errorf("promotion of %v is longer than a day", c.Realtime.Promotion)
	}
	return nil
}
