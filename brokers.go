package memdb

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/broker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// connectBrokers reads every gateway in parallel. Failures are logged.
func (m *MemDb) connectBrokers(ctx context.Context, log *logrus.Entry) {
	var g errgroup.Group
	for _, gw := range m.gateways {
		g.Go(func() error {
			if err := m.refreshAccount(ctx, gw, log); err != nil {
				log.WithError(err).WithField("gateway", gw.ID()).Warn("broker account not available")
			}
			return nil
		})
	}
	g.Wait()
}

// RefreshAccount reads the sums and positions of one gateway again.
func (m *MemDb) RefreshAccount(ctx context.Context, gatewayID string) error {
	for _, gw := range m.gateways {
		if gw.ID() == gatewayID {
			return m.refreshAccount(ctx, gw, m.log)
		}
	}
	return fmt.Errorf("%w %q", ErrUnknownGateway, gatewayID)
}

// refreshAccount maps the positions of gw to assets, adding the option
// contracts not known yet. Contracts that cannot be mapped are kept in
// Account.Unrecognized and logged.
func (m *MemDb) refreshAccount(ctx context.Context, gw broker.Gateway, log *logrus.Entry) error {
	sums, err := gw.AccountSums(ctx)
	if err != nil {
		return err
	}
	positions, err := gw.Positions(ctx)
	if err != nil {
		return err
	}
	log = log.WithField("gateway", gw.ID())
	now := m.now()

	reg := m.Registry()
	nav := gatewayNav(reg, gw.ID())
	if nav != nil && sums.NetLiquidation != 0 {
		nav.Last().Store(sums.NetLiquidation, now)
	}
	missing, unrecognized := broker.Map(reg, positions, log)
	if len(missing) > 0 {
		m.AddAssetIfMissing(missing)
	}
	unrecognized = append(unrecognized, broker.Link(m.Registry(), positions)...)

	acc := &broker.Account{
		GatewayID:    gw.ID(),
		Nav:          nav,
		Sums:         sums,
		Positions:    positions,
		Unrecognized: unrecognized,
		LastUpdate:   now,
	}
	m.accountsMu.Lock()
	m.accounts[gw.ID()] = acc
	m.accountsMu.Unlock()

	if len(unrecognized) > 0 {
		log.Warnf("%d contracts not recognized as assets: %v", len(unrecognized), unrecognized)
	}
	return nil
}

// gatewayNav returns the plain NAV served by the gateway, or nil.
func gatewayNav(reg *asset.Registry, gatewayID string) *asset.BrokerNav {
	for _, n := range asset.OfType[*asset.BrokerNav](reg) {
		if n.GatewayID == gatewayID && !n.IsAggregated() {
			return n
		}
	}
	return nil
}

// Accounts returns the last known state of the broker accounts, by gateway.
func (m *MemDb) Accounts() []broker.Account {
	m.accountsMu.RLock()
	defer m.accountsMu.RUnlock()
	accounts := make([]broker.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, *a)
	}
	slices.SortFunc(accounts, func(a, b broker.Account) int { return cmp.Compare(a.GatewayID, b.GatewayID) })
	return accounts
}
