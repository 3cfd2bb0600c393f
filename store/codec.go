package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
)

// userRecord is a user as stored under "sq_user".
type userRecord struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Title        string `json:"title"`
	FirstName    string `json:"firstname"`
	LastName     string `json:"lastname"`
	IsAdmin      int    `json:"isadmin"`
	VisibleUsers string `json:"visibleusers"`
}

// DecodeUsers parses the JSON array of users and links their visible users.
func DecodeUsers(data []byte) ([]*asset.User, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []userRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("cannot decode users: %w", err)
	}
	users := make([]*asset.User, len(records))
	for i, r := range records {
		users[i] = &asset.User{
			ID:        r.ID,
			Username:  r.Name,
			Email:     r.Email,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			IsAdmin:   r.IsAdmin == 1,
			Initials:  initials(r.FirstName, r.LastName),
		}
	}
	for i, r := range records {
		for _, name := range strings.Split(r.VisibleUsers, ",") {
			if u := asset.FindUser(users, strings.TrimSpace(name)); u != nil && name != "" {
				users[i].VisibleUsers = append(users[i].VisibleUsers, u)
			}
		}
	}
	return users, nil
}

func initials(first, last string) string {
	var b strings.Builder
	if first != "" {
		b.WriteByte(first[0])
	}
	if last != "" {
		b.WriteByte(last[0])
	}
	return strings.ToUpper(b.String())
}

// row is one positional asset record. Cells are strings or numbers.
type row []json.Number

func (r *row) UnmarshalJSON(data []byte) error {
	var cells []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&cells); err != nil {
		return err
	}
	*r = make(row, len(cells))
	for i, c := range cells {
		switch v := c.(type) {
		case nil:
		case json.Number:
			(*r)[i] = v
		case string:
			(*r)[i] = json.Number(v)
		default:
			(*r)[i] = json.Number(fmt.Sprint(v))
		}
	}
	return nil
}

// str returns the i-th cell, "" when the row is shorter.
func (r row) str(i int) string {
	if i >= len(r) {
		return ""
	}
	return strings.TrimSpace(string(r[i]))
}

// id reads the SubTableID in cell 0.
func (r row) id(t asset.Type) (asset.ID, error) {
	sub, err := strconv.ParseUint(r.str(0), 10, 32)
	if err != nil || sub > asset.MaxSubTableID {
		return asset.Invalid, fmt.Errorf("invalid %v id %q", t, r.str(0))
	}
	return asset.NewID(t, uint32(sub)), nil
}

// tables lists the asset tables in dependency order: companies before the
// stocks referencing them.
var tables = []asset.Type{
	asset.TypeCurrencyCash,
	asset.TypeCurrencyPair,
	asset.TypeFinIndex,
	asset.TypeRealEstate,
	asset.TypeBrokerNAV,
	asset.TypeCompany,
	asset.TypeStock,
}

// DecodeAssets parses the asset document: one array of positional rows per
// type code,
//
//	{"C":[["1","USD","US Dollar","",""]], "S":[["1","SPY","SPDR S&P 500","","USD","ETF","NYSEARCA","","","","","","","",""]], ...}
//
// Rows are [sub, symbol, name, shortName, currency, ...] followed by variant cells:
//   - D: tradingSymbol
//   - R: username
//   - N: username, gatewayID
//   - A: expiration, symbolHist, nameHist, sector
//   - S: stockType, exchange, tradingSymbol, expiration, symbolHist, nameHist, yfTicker, flags, isin, company
//
// A record that cannot be built is left out and its error joined to the
// returned one; the other records are still returned.
func DecodeAssets(data []byte, users []*asset.User) ([]asset.Asset, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc map[string][]row
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot decode assets: %w", err)
	}
	if p := doc[string(asset.TypePortfolio.Code())]; len(p) > 0 {
		return nil, fmt.Errorf("cannot decode assets: %d portfolios found in the asset document", len(p))
	}

	var (
		assets    []asset.Asset
		errs      []error
		companies = make(map[string]*asset.Company)
	)
	for _, t := range tables {
		for _, r := range doc[string(t.Code())] {
			a, err := decodeRow(t, r, users, companies)
			if err != nil {
				errs = append(errs, fmt.Errorf("%v %q: %w", t, r.str(1), err))
				continue
			}
			if c, ok := a.(*asset.Company); ok {
				companies[c.Ticker()] = c
			}
			assets = append(assets, a)
		}
	}
	return assets, errors.Join(errs...)
}

func decodeRow(t asset.Type, r row, users []*asset.User, companies map[string]*asset.Company) (asset.Asset, error) {
	id, err := r.id(t)
	if err != nil {
		return nil, err
	}
	symbol, name, currency := r.str(1), r.str(2), r.str(4)
	if symbol == "" {
		return nil, errors.New("empty symbol")
	}
	var a asset.Asset
	switch t {
	case asset.TypeCurrencyCash:
		a = asset.NewCash(id, symbol, name)
	case asset.TypeCurrencyPair:
		// "HUF" or "HUF.EUR": the target is before the dot
		target, _, _ := strings.Cut(symbol, ".")
		if currency == "" {
			currency = "USD"
		}
		a = asset.NewCurrPair(id, target, currency, name, r.str(5))
	case asset.TypeFinIndex:
		a = asset.NewIndex(id, symbol, name, currency)
	case asset.TypeRealEstate:
		a = asset.NewRealEstate(id, symbol, name, currency, asset.FindUser(users, r.str(5)))
	case asset.TypeBrokerNAV:
		user := asset.FindUser(users, r.str(5))
		if user == nil {
			return nil, fmt.Errorf("unknown user %q", r.str(5))
		}
		a = asset.NewBrokerNav(id, symbol, name, currency, user, r.str(6))
	case asset.TypeCompany:
		a = asset.NewCompany(id, symbol, name, r.str(5), r.str(8))
	case asset.TypeStock:
		info := asset.StockInfo{
			Symbol:     symbol,
			Name:       name,
			Currency:   currency,
			Exchange:   r.str(6),
			Expiration: r.str(8),
			YfTicker:   r.str(11),
			ISIN:       r.str(13),
		}
		if r.str(5) != "ETF" {
			ticker := r.str(14)
			if ticker == "" {
				ticker = symbol
			}
			c, ok := companies[asset.BasicTicker(asset.TypeCompany, ticker)]
			if !ok {
				return nil, fmt.Errorf("company %q not found", ticker)
			}
			info.Company = c
		}
		a = asset.NewStock(id, info)
	default:
		return nil, fmt.Errorf("unsupported asset type %v", t)
	}
	if short := r.str(3); short != "" {
		a.(interface{ SetShortName(string) }).SetShortName(short)
	}
	return a, nil
}

// loadSpan is one entry of the "Srv.LoadPrHist" document.
type loadSpan struct {
	LoadPrHist string `json:"LoadPrHist"`
}

// ApplyHistorySpans sets the history start of the assets listed in the span
// document {"S/SPY":{"LoadPrHist":"1y"}, ...}, relative to today. Unknown
// tickers and invalid spans are reported and skipped.
func ApplyHistorySpans(data []byte, assets []asset.Asset, today date.Date) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var spans map[string]loadSpan
	if err := json.Unmarshal(data, &spans); err != nil {
		return fmt.Errorf("cannot decode history spans: %w", err)
	}
	byTicker := make(map[string]asset.Asset, len(assets))
	for _, a := range assets {
		byTicker[a.Ticker()] = a
	}
	var errs []error
	for ticker, span := range spans {
		a, ok := byTicker[ticker]
		if !ok {
			errs = append(errs, fmt.Errorf("history span of %q: %w", ticker, asset.ErrNotFound))
			continue
		}
		start, err := history.ParseSpan(span.LoadPrHist, today)
		if err != nil {
			errs = append(errs, fmt.Errorf("history span of %q: %w", ticker, err))
			continue
		}
		a.(interface{ SetHistoryStart(date.Date) }).SetHistoryStart(start)
	}
	return errors.Join(errs...)
}

// DecodeSplitOverrides parses {"S/TICKER":[{"Date":"2020-04-29","Before":1,"After":2}]}.
func DecodeSplitOverrides(data []byte) (map[string][]history.Split, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string][]history.Split{}, nil
	}
	var overrides map[string][]history.Split
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("cannot decode split overrides: %w", err)
	}
	return overrides, nil
}
