package memdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
)

// SaveNavCloses appends today's real-time value of every broker NAV to its
// raw daily history in the backing store. NAVs without a value observed
// today are left untouched. It returns the number of NAVs saved.
func (m *MemDb) SaveNavCloses(ctx context.Context) (int, error) {
	today := date.In(m.now(), m.loc)
	var (
		errs  []error
		saved int
	)
	for _, n := range asset.OfType[*asset.BrokerNav](m.Registry()) {
		if n.IsAggregated() {
			continue
		}
		q := n.Last().Load()
		if !q.Valid() || date.In(q.Time, m.loc) != today {
			continue
		}
		raw, err := m.store.GetAssetQuoteRaw(ctx, n.ID())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		h, err := history.ParseRawQuotes(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("raw quotes of %s: %w", n.Ticker(), err))
			continue
		}
		h.Append(today, q.Value)
		if err := m.store.SetAssetQuoteRaw(ctx, n.ID(), history.FormatRawQuotes(h)); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	m.log.Infof("%d NAV closes saved for %v", saved, today)
	return saved, errors.Join(errs...)
}
