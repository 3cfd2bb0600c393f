package asset

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/Rhymond/go-money"
	"github.com/etnz/memdb/date"
)

// Asset is one of the closed set of variants below. Code needing variant
// fields type-switches on it.
type Asset interface {
	ID() ID
	Type() Type
	// Symbol is the exchange symbol, not unique: "VOD" exists in several places.
	Symbol() string
	// Ticker is the unique human readable identifier, e.g. "S/VOD^L".
	Ticker() string
	Name() string
	Currency() string
	// Persisted is false for assets discovered at runtime and not stored in the backing store.
	Persisted() bool
	// Last is the real-time (value, timestamp) cell.
	Last() *Cell
	// PriorClose is the previous session close cell.
	PriorClose() *Cell
	// HistoryStart is the first day the history should cover.
	HistoryStart() date.Date

	base() *Base
}

// DefaultHistoryStart is used when no history span is configured for an asset.
var DefaultHistoryStart = date.New(2018, 2, 1)

// Base holds the fields common to every variant.
type Base struct {
	id           ID
	typ          Type
	symbol       string
	name         string
	shortName    string
	currency     string
	ticker       string
	persisted    bool
	historyStart date.Date

	last  Cell
	prior Cell
}

func newBase(id ID, t Type, symbol, name, currency string) Base {
	if currency == "" {
		currency = money.USD
	}
	return Base{
		id:           id,
		typ:          t,
		symbol:       symbol,
		name:         name,
		currency:     currency,
		ticker:       BasicTicker(t, symbol),
		persisted:    true,
		historyStart: DefaultHistoryStart,
	}
}

// BasicTicker returns the ticker of an asset with no exchange or expiration qualifier.
func BasicTicker(t Type, symbol string) string { return string(t.Code()) + "/" + symbol }

func (b *Base) ID() ID                  { return b.id }
func (b *Base) Type() Type              { return b.typ }
func (b *Base) Symbol() string          { return b.symbol }
func (b *Base) Ticker() string          { return b.ticker }
func (b *Base) Name() string            { return b.name }
func (b *Base) ShortName() string       { return b.shortName }
func (b *Base) Currency() string        { return b.currency }
func (b *Base) Persisted() bool         { return b.persisted }
func (b *Base) Last() *Cell             { return &b.last }
func (b *Base) PriorClose() *Cell       { return &b.prior }
func (b *Base) HistoryStart() date.Date { return b.historyStart }
func (b *Base) base() *Base             { return b }

// SetHistoryStart changes the first day of history. It must be called before
// the asset is published in a Registry.
func (b *Base) SetHistoryStart(d date.Date) { b.historyStart = d }

// SetShortName sets the display name. Same restriction as SetHistoryStart.
func (b *Base) SetShortName(s string) { b.shortName = s }

// Format displays v in the asset currency, e.g. "$1,234.50".
func (b *Base) Format(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return money.NewFromFloat(v, b.currency).Display()
}

// Validate checks the record level invariants of a.
func Validate(a Asset) error {
	b := a.base()
	if b.id == Invalid {
		return fmt.Errorf("asset %q has no id", b.ticker)
	}
	if b.id.Type() != b.typ || codes[b.typ] == 0 {
		return fmt.Errorf("asset %q has inconsistent type %v", b.ticker, b.id.Type())
	}
	if money.GetCurrency(b.currency) == nil {
		return fmt.Errorf("asset %q has unknown currency %q", b.ticker, b.currency)
	}
	switch v := a.(type) {
	case *BrokerNav:
		if v.User == nil {
			return fmt.Errorf("broker NAV %q has no user", b.ticker)
		}
	case *Option:
		if v.Underlying == nil && !v.UnderlyingUnresolved {
			return fmt.Errorf("option %q has no underlying and is not flagged unresolved", b.ticker)
		}
	}
	return nil
}

// Cash is a currency held as cash, e.g. "C/EUR".
type Cash struct{ Base }

func NewCash(id ID, code, name string) *Cash {
	return &Cash{newBase(id, TypeCurrencyCash, code, name, code)}
}

// CurrPair is a currency pair, e.g. "D/HUF.USD": Target priced in Currency.
type CurrPair struct {
	Base
	Target        string
	TradingSymbol string
}

func NewCurrPair(id ID, target, base, name, tradingSymbol string) *CurrPair {
	p := &CurrPair{Base: newBase(id, TypeCurrencyPair, target, name, base), Target: target, TradingSymbol: tradingSymbol}
	p.ticker += "." + p.currency
	return p
}

// Index is a financial index such as SPX or VIX.
type Index struct {
	Base
	YfTicker string
}

func NewIndex(id ID, symbol, name, currency string) *Index {
	return &Index{Base: newBase(id, TypeFinIndex, symbol, name, currency), YfTicker: "^" + symbol}
}

// Company groups the stocks issued by one company.
type Company struct {
	Base
	Expiration string
	Sector     string
}

func NewCompany(id ID, symbol, name, expiration, sector string) *Company {
	c := &Company{Base: newBase(id, TypeCompany, symbol, name, ""), Expiration: expiration, Sector: sector}
	if expiration != "" {
		c.ticker += "*" + expiration
	}
	return c
}

// StockInfo describes a Stock to create.
type StockInfo struct {
	Symbol, Name, Currency string
	// Exchange is the primary exchange, e.g. "NYSE" or "LSE".
	Exchange string
	// Expiration is set on dead tickers, e.g. "20190130".
	Expiration string
	YfTicker   string
	ISIN       string
	Company    *Company
}

// Stock is an exchange traded share or ETF.
type Stock struct {
	Base
	Exchange   string
	Expiration string
	YfTicker   string
	IexTicker  string
	ISIN       string
	Company    *Company
}

func NewStock(id ID, info StockInfo) *Stock {
	s := &Stock{
		Base:       newBase(id, TypeStock, info.Symbol, info.Name, info.Currency),
		Exchange:   info.Exchange,
		Expiration: info.Expiration,
		YfTicker:   info.YfTicker,
		ISIN:       info.ISIN,
		Company:    info.Company,
	}
	if s.YfTicker == "" {
		s.YfTicker = info.Symbol
	}
	// "BRK-B" for the batch provider is "BRK.B" for the low latency one
	s.IexTicker = replaceByte(s.YfTicker, '-', '.')
	if s.Exchange != "" {
		s.ticker += "^" + s.Exchange[:1]
	}
	if s.Expiration != "" {
		s.ticker += "*" + s.Expiration
	}
	return s
}

// IsAlive reports whether the stock still trades.
func (s *Stock) IsAlive() bool { return s.Expiration == "" }

func replaceByte(s string, old, new byte) string {
	b := []byte(s)
	for i := range b {
		if b[i] == old {
			b[i] = new
		}
	}
	return string(b)
}

// Right is the right of an option contract.
type Right byte

const (
	Call Right = 'C'
	Put  Right = 'P'
)

// OptionInfo describes an Option to create.
type OptionInfo struct {
	UnderlyingSymbol string
	// LastTradeDate is the contract month or day as given by the broker, e.g. "20220121".
	LastTradeDate string
	Right         Right
	Strike        float64
	Multiplier    int
	Currency      string
	Underlying    *Stock
}

// Option is an option contract, usually discovered from broker positions at runtime.
type Option struct {
	Base
	UnderlyingSymbol string
	Underlying       *Stock
	// UnderlyingUnresolved flags an option whose underlying is not a known Stock.
	UnderlyingUnresolved bool
	LastTradeDate        string
	Right                Right
	Strike               float64
	Multiplier           int

	delta atomic.Uint64
}

// OptionTicker returns the unique ticker of an option, e.g. "O/VXX*220617P16".
func OptionTicker(underlying, lastTradeDate string, right Right, strike float64) string {
	return fmt.Sprintf("O/%s*%s%c%s", underlying, lastTradeDate, right, strconv.FormatFloat(strike, 'f', -1, 64))
}

// NewOption creates a runtime option. Its id is assigned when added to a Registry.
func NewOption(info OptionInfo) *Option {
	symbol := fmt.Sprintf("%s %s%c%s", info.UnderlyingSymbol, info.LastTradeDate, info.Right, strconv.FormatFloat(info.Strike, 'f', -1, 64))
	o := &Option{
		Base:                 newBase(Invalid, TypeOption, symbol, "", info.Currency),
		UnderlyingSymbol:     info.UnderlyingSymbol,
		Underlying:           info.Underlying,
		UnderlyingUnresolved: info.Underlying == nil,
		LastTradeDate:        info.LastTradeDate,
		Right:                info.Right,
		Strike:               info.Strike,
		Multiplier:           info.Multiplier,
	}
	o.name = fmt.Sprintf("%s %s option. Exp:%s, Strike:%v", info.UnderlyingSymbol, map[Right]string{Call: "Call", Put: "Put"}[info.Right], info.LastTradeDate, info.Strike)
	o.ticker = OptionTicker(info.UnderlyingSymbol, info.LastTradeDate, info.Right, info.Strike)
	o.persisted = false
	o.delta.Store(math.Float64bits(math.NaN()))
	return o
}

// Delta returns the live delta reported by the broker, or NaN.
func (o *Option) Delta() float64 { return math.Float64frombits(o.delta.Load()) }

// SetDelta publishes a new live delta.
func (o *Option) SetDelta(d float64) { o.delta.Store(math.Float64bits(d)) }

// BrokerNav is the net asset value of one broker account, or the synthetic
// sum of several accounts of the same user when it has children.
type BrokerNav struct {
	Base
	User *User
	// GatewayID names the broker connection serving this account.
	GatewayID string

	children []*BrokerNav
	parent   *BrokerNav
}

func NewBrokerNav(id ID, symbol, name, currency string, user *User, gatewayID string) *BrokerNav {
	return &BrokerNav{Base: newBase(id, TypeBrokerNAV, symbol, name, currency), User: user, GatewayID: gatewayID}
}

// IsAggregated reports whether n is a synthetic sum with no quote source of its own.
func (n *BrokerNav) IsAggregated() bool { return len(n.children) > 0 }

// Children returns the accounts summed by an aggregated NAV.
func (n *BrokerNav) Children() []*BrokerNav { return n.children }

// Parent returns the aggregated NAV including n, or nil.
func (n *BrokerNav) Parent() *BrokerNav { return n.parent }

// Portfolio is a user defined portfolio tracked as an asset.
type Portfolio struct {
	Base
	User *User
}

func NewPortfolio(id ID, symbol, name, currency string, user *User) *Portfolio {
	return &Portfolio{Base: newBase(id, TypePortfolio, symbol, name, currency), User: user}
}

// RealEstate is a property owned by a user.
type RealEstate struct {
	Base
	User *User
}

func NewRealEstate(id ID, symbol, name, currency string, user *User) *RealEstate {
	return &RealEstate{Base: newBase(id, TypeRealEstate, symbol, name, currency), User: user}
}
