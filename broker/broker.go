// Package broker maps broker account feeds onto the asset registry.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/etnz/memdb/asset"
)

// Security types of a Contract.
const (
	SecStock  = "STK"
	SecOption = "OPT"
	SecCash   = "CASH"
)

// Contract describes a position as the broker knows it.
type Contract struct {
	Symbol      string `yaml:"symbol"`
	SecType     string `yaml:"sec_type"`
	Currency    string `yaml:"currency"`
	LocalSymbol string `yaml:"local_symbol,omitempty"`

	// LastTradeDate is the option expiration, "20220617".
	LastTradeDate string  `yaml:"last_trade_date,omitempty"`
	Right         string  `yaml:"right,omitempty"`
	Strike        float64 `yaml:"strike,omitempty"`
	Multiplier    string  `yaml:"multiplier,omitempty"`
}

func (c Contract) String() string { return c.SecType + ":" + c.Symbol }

// Position is a holding of an account.
type Position struct {
	Contract Contract `yaml:"contract"`
	Quantity float64  `yaml:"quantity"`
	AvgCost  float64  `yaml:"avg_cost"`

	// Ticker and AssetID are set once the contract is mapped to an asset.
	Ticker  string   `yaml:"-"`
	AssetID asset.ID `yaml:"-"`
}

// AccountSums are the account level values.
type AccountSums struct {
	NetLiquidation     float64 `yaml:"net_liquidation"`
	GrossPositionValue float64 `yaml:"gross_position_value"`
	TotalCashValue     float64 `yaml:"total_cash_value"`
	InitMarginReq      float64 `yaml:"init_margin_req"`
	MaintMarginReq     float64 `yaml:"maint_margin_req"`
}

// Gateway is a connection to one broker account.
type Gateway interface {
	ID() string
	AccountSums(ctx context.Context) (AccountSums, error)
	Positions(ctx context.Context) ([]Position, error)
}

// Account is the last known state of a broker account.
type Account struct {
	GatewayID string
	Nav       *asset.BrokerNav
	Sums      AccountSums
	Positions []Position
	// Unrecognized lists the contracts with no asset, including the
	// underlying stocks of options that are not in the registry.
	Unrecognized []Contract
	LastUpdate   time.Time
}

// StaticConfig configures a Static gateway.
type StaticConfig struct {
	ID        string      `yaml:"id"`
	Sums      AccountSums `yaml:"sums"`
	Positions []Position  `yaml:"positions"`
}

// Static is a gateway serving configured values. It stands for accounts
// that are not connected, and for tests.
type Static struct {
	id string

	mu        sync.RWMutex
	sums      AccountSums
	positions []Position
	err       error
}

var _ Gateway = (*Static)(nil)

func NewStatic(cfg StaticConfig) *Static {
	return &Static{id: cfg.ID, sums: cfg.Sums, positions: cfg.Positions}
}

func (s *Static) ID() string { return s.id }

func (s *Static) AccountSums(ctx context.Context) (AccountSums, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return AccountSums{}, fmt.Errorf("gateway %s: %w", s.id, s.err)
	}
	return s.sums, nil
}

func (s *Static) Positions(ctx context.Context) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, fmt.Errorf("gateway %s: %w", s.id, s.err)
	}
	return append([]Position(nil), s.positions...), nil
}

// Set replaces the served values.
func (s *Static) Set(sums AccountSums, positions []Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sums, s.positions = sums, positions
}

// Fail makes every call fail with err until Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
