package broker

import (
	"strconv"

	"github.com/etnz/memdb/asset"
	"github.com/sirupsen/logrus"
)

// Map resolves each position to a ticker of reg and sets Position.Ticker.
//
// Stocks are looked up as "S/<symbol>", falling back to the exchange
// qualified tickers of that symbol. Options missing from reg are returned as
// new assets to add; USD options only, and options on VIX are left out.
// Cash positions are virtual and skipped. Everything else is unrecognized.
func Map(reg *asset.Registry, positions []Position, log *logrus.Entry) (missing []asset.Asset, unrecognized []Contract) {
	for i := range positions {
		p := &positions[i]
		c := p.Contract
		switch c.SecType {
		case SecStock:
			a, ok := reg.Resolve(asset.BasicTicker(asset.TypeStock, c.Symbol))
			if !ok {
				unrecognized = append(unrecognized, c)
				continue
			}
			p.Ticker = a.Ticker()
		case SecOption:
			if c.Symbol == "VIX" {
				log.WithField("contract", c.LocalSymbol).Info("VIX futures option skipped")
				unrecognized = append(unrecognized, c)
				continue
			}
			right := asset.Right(0)
			if len(c.Right) > 0 {
				right = asset.Right(c.Right[0])
			}
			p.Ticker = asset.OptionTicker(c.Symbol, c.LastTradeDate, right, c.Strike)
			if _, ok := reg.TryByTicker(p.Ticker); ok {
				continue
			}
			multiplier, err := strconv.Atoi(c.Multiplier)
			if c.Currency != "USD" || err != nil || (right != asset.Call && right != asset.Put) {
				unrecognized = append(unrecognized, c)
				continue
			}
			var underlying *asset.Stock
			if a, ok := reg.Resolve(asset.BasicTicker(asset.TypeStock, c.Symbol)); ok {
				underlying, _ = a.(*asset.Stock)
			}
			missing = append(missing, asset.NewOption(asset.OptionInfo{
				UnderlyingSymbol: c.Symbol,
				LastTradeDate:    c.LastTradeDate,
				Right:            right,
				Strike:           c.Strike,
				Multiplier:       multiplier,
				Currency:         c.Currency,
				Underlying:       underlying,
			}))
		case SecCash:
			log.WithField("currency", c.Currency).Debug("virtual forex position skipped")
		default:
			log.WithField("secType", c.SecType).Warn("unrecognized contract type")
			unrecognized = append(unrecognized, c)
		}
	}
	return missing, unrecognized
}

// Link sets the AssetID of the mapped positions from reg. It returns the
// underlying stocks missing for the options held, as stock contracts.
func Link(reg *asset.Registry, positions []Position) (unresolved []Contract) {
	for i := range positions {
		p := &positions[i]
		p.AssetID = asset.Invalid
		if p.Ticker == "" {
			continue
		}
		a, ok := reg.TryByTicker(p.Ticker)
		if !ok {
			continue
		}
		p.AssetID = a.ID()
		if o, ok := a.(*asset.Option); ok && o.Underlying == nil {
			unresolved = append(unresolved, Contract{Symbol: o.UnderlyingSymbol, SecType: SecStock, Currency: o.Currency()})
		}
	}
	return unresolved
}
