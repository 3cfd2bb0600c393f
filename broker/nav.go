package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/realtime"
)

// NavSource reads the net liquidation of broker NAVs from their gateways.
type NavSource struct {
	Gateways map[string]Gateway
	Now      func() time.Time
}

var _ realtime.NavSource = (*NavSource)(nil)

// NavValues queries each gateway once. NAVs without a gateway are absent;
// a failing gateway is reported and the others are still returned.
func (s *NavSource) NavValues(ctx context.Context, navs []*asset.BrokerNav) (map[asset.ID]realtime.RawQuote, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	values := make(map[asset.ID]realtime.RawQuote, len(navs))
	sums := make(map[string]AccountSums)
	failed := make(map[string]bool)
	var errs []error
	for _, n := range navs {
		gw, ok := s.Gateways[n.GatewayID]
		if !ok || failed[n.GatewayID] {
			continue
		}
		sum, ok := sums[n.GatewayID]
		if !ok {
			var err error
			if sum, err = gw.AccountSums(ctx); err != nil {
				errs = append(errs, fmt.Errorf("NAV %s: %w", n.Ticker(), err))
				failed[n.GatewayID] = true
				continue
			}
			sums[n.GatewayID] = sum
		}
		values[n.ID()] = realtime.RawQuote{Last: sum.NetLiquidation, Time: now()}
	}
	return values, errors.Join(errs...)
}
