package asset

import (
	"cmp"
	"slices"
)

// AggregatedNavBase offsets the SubTableID of synthetic NAVs: the aggregate of
// user u has SubTableID AggregatedNavBase+u.ID, stable across reloads.
const AggregatedNavBase = 10000

// AggregateNavs synthesizes one aggregated BrokerNav per user owning at least
// two plain NAVs, and links the children to it. Results are sorted by user id.
func AggregateNavs(navs []*BrokerNav) []*BrokerNav {
	byUser := make(map[*User][]*BrokerNav)
	for _, n := range navs {
		if n.User == nil || n.IsAggregated() {
			continue
		}
		byUser[n.User] = append(byUser[n.User], n)
	}

	var aggs []*BrokerNav
	for user, children := range byUser {
		if len(children) < 2 {
			continue
		}
		id := NewID(TypeBrokerNAV, uint32(AggregatedNavBase+user.ID))
		agg := NewBrokerNav(id, user.Initials, "Aggregated NAV, "+user.Initials, children[0].Currency(), user, "")
		agg.persisted = false
		agg.historyStart = children[0].historyStart
		for _, c := range children {
			if c.historyStart.Before(agg.historyStart) {
				agg.historyStart = c.historyStart
			}
			c.parent = agg
		}
		agg.children = children
		aggs = append(aggs, agg)
	}
	slices.SortFunc(aggs, func(a, b *BrokerNav) int { return cmp.Compare(a.User.ID, b.User.ID) })
	return aggs
}
