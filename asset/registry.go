package asset

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotFound is returned when an id or ticker is not in the registry.
	ErrNotFound = errors.New("asset not found")
	// ErrDuplicate is returned for a record reusing the id or ticker of another.
	ErrDuplicate = errors.New("duplicate asset")
)

// Registry is an immutable set of assets indexed by id, ticker and symbol.
//
// A Registry is never modified after Build: WithMissing returns a new one.
// It is therefore safe for concurrent use without locking.
type Registry struct {
	assets    []Asset
	byID      map[ID]Asset
	byTicker  map[string]Asset
	bySymbol  map[string][]Asset
	watermark map[Type]uint32
}

// Build indexes assets in one pass.
//
// Records breaking an invariant (duplicate id or ticker, unknown currency, NAV
// without user...) are left out and reported in the returned error; the
// registry holds every other record.
func Build(assets []Asset) (*Registry, error) {
	r := &Registry{
		assets:    make([]Asset, 0, len(assets)),
		byID:      make(map[ID]Asset, len(assets)),
		byTicker:  make(map[string]Asset, len(assets)),
		bySymbol:  make(map[string][]Asset, len(assets)),
		watermark: make(map[Type]uint32),
	}
	var errs []error
	for _, a := range assets {
		if err := r.add(a); err != nil {
			errs = append(errs, err)
		}
	}
	return r, errors.Join(errs...)
}

// add indexes a. It must only be called on a registry under construction.
func (r *Registry) add(a Asset) error {
	if err := Validate(a); err != nil {
		return err
	}
	if other, ok := r.byID[a.ID()]; ok {
		return fmt.Errorf("%w: id %v of %q already used by %q", ErrDuplicate, a.ID(), a.Ticker(), other.Ticker())
	}
	if _, ok := r.byTicker[a.Ticker()]; ok {
		return fmt.Errorf("%w: ticker %q", ErrDuplicate, a.Ticker())
	}
	r.assets = append(r.assets, a)
	r.byID[a.ID()] = a
	r.byTicker[a.Ticker()] = a
	r.bySymbol[a.Symbol()] = append(r.bySymbol[a.Symbol()], a)
	t, sub := a.ID().Type(), a.ID().SubTableID()
	r.watermark[t] = max(r.watermark[t], sub)
	return nil
}

// Len returns the number of assets.
func (r *Registry) Len() int { return len(r.assets) }

// Assets returns all assets in insertion order. The slice must not be modified.
func (r *Registry) Assets() []Asset { return r.assets }

// Get returns the asset with that id, or an error wrapping ErrNotFound.
func (r *Registry) Get(id ID) (Asset, error) {
	if a, ok := r.byID[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: id %v", ErrNotFound, id)
}

// TryGet is the non failing version of Get.
func (r *Registry) TryGet(id ID) (Asset, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// ByTicker returns the asset with that ticker, or an error wrapping ErrNotFound.
func (r *Registry) ByTicker(ticker string) (Asset, error) {
	if a, ok := r.byTicker[ticker]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: ticker %q", ErrNotFound, ticker)
}

// TryByTicker is the non failing version of ByTicker.
func (r *Registry) TryByTicker(ticker string) (Asset, bool) {
	a, ok := r.byTicker[ticker]
	return a, ok
}

// BySymbol returns every asset sharing symbol, e.g. the same ticker on several exchanges.
func (r *Registry) BySymbol(symbol string) []Asset { return r.bySymbol[symbol] }

// Resolve looks ticker up, falling back for a basic "<code>/<symbol>" ticker
// to the first asset of that type and symbol, alive stocks first. It lets
// "S/SPY" find "S/SPY^A".
func (r *Registry) Resolve(ticker string) (Asset, bool) {
	if a, ok := r.byTicker[ticker]; ok {
		return a, true
	}
	if len(ticker) < 3 || ticker[1] != '/' {
		return nil, false
	}
	t, ok := TypeOfCode(ticker[0])
	if !ok {
		return nil, false
	}
	var found Asset
	for _, a := range r.bySymbol[ticker[2:]] {
		if a.Type() != t {
			continue
		}
		if s, ok := a.(*Stock); ok && s.IsAlive() {
			return a, true
		}
		if found == nil {
			found = a
		}
	}
	return found, found != nil
}

// Find returns the assets matching keep. It scans the whole registry.
func (r *Registry) Find(keep func(Asset) bool) []Asset {
	var found []Asset
	for _, a := range r.assets {
		if keep(a) {
			found = append(found, a)
		}
	}
	return found
}

// Watermark returns the highest SubTableID used by type t.
func (r *Registry) Watermark(t Type) uint32 { return r.watermark[t] }

// OfType returns the assets of variant T, e.g. OfType[*Stock](r).
func OfType[T Asset](r *Registry) []T {
	var found []T
	for _, a := range r.assets {
		if v, ok := a.(T); ok {
			found = append(found, v)
		}
	}
	return found
}

// WithMissing returns a registry holding r plus the candidates whose ticker is
// not in r yet, and the candidates actually added.
//
// Added assets receive a fresh id from the per-type watermark, so ids keep
// increasing. r is left untouched: readers iterating it are unaffected. When
// nothing is missing, r itself is returned.
func (r *Registry) WithMissing(candidates []Asset) (*Registry, []Asset) {
	var added []Asset
	seen := make(map[string]bool)
	for _, c := range candidates {
		if _, ok := r.byTicker[c.Ticker()]; ok || seen[c.Ticker()] {
			continue
		}
		seen[c.Ticker()] = true
		added = append(added, c)
	}
	if len(added) == 0 {
		return r, nil
	}

	next := &Registry{
		assets:    slices.Grow(slices.Clone(r.assets), len(added)),
		byID:      make(map[ID]Asset, len(r.byID)+len(added)),
		byTicker:  make(map[string]Asset, len(r.byTicker)+len(added)),
		bySymbol:  make(map[string][]Asset, len(r.bySymbol)+len(added)),
		watermark: make(map[Type]uint32, len(r.watermark)),
	}
	for id, a := range r.byID {
		next.byID[id] = a
	}
	for t, a := range r.byTicker {
		next.byTicker[t] = a
	}
	for s, l := range r.bySymbol {
		next.bySymbol[s] = l
	}
	for t, w := range r.watermark {
		next.watermark[t] = w
	}

	kept := added[:0]
	for _, a := range added {
		b := a.base()
		if b.id == Invalid || next.byID[b.id] != nil {
			b.id = NewID(b.typ, next.watermark[b.typ]+1)
		}
		if Validate(a) != nil {
			continue
		}
		next.assets = append(next.assets, a)
		next.byID[b.id] = a
		next.byTicker[b.ticker] = a
		// copy the symbol list: it is shared with r
		next.bySymbol[b.symbol] = append(slices.Clip(next.bySymbol[b.symbol]), a)
		next.watermark[b.typ] = max(next.watermark[b.typ], b.id.SubTableID())
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return r, nil
	}
	return next, kept
}
