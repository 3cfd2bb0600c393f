package store

import (
	"context"

	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/history"
)

// Store is the backing store of the database: Redis, with deposits and
// split overrides read from Postgres when SQL is set.
type Store struct {
	*Redis
	SQL *Postgres
}

var (
	_ history.RawQuotes      = (*Store)(nil)
	_ history.Deposits       = (*Store)(nil)
	_ history.SplitOverrides = (*Store)(nil)
)

func (s *Store) GetAssetDeposits(ctx context.Context, id asset.ID) ([]history.Deposit, error) {
	if s.SQL != nil {
		return s.SQL.GetAssetDeposits(ctx, id)
	}
	return s.Redis.GetAssetDeposits(ctx, id)
}

func (s *Store) GetMissingSplitOverrides(ctx context.Context) (map[string][]history.Split, error) {
	if s.SQL != nil {
		return s.SQL.GetMissingSplitOverrides(ctx)
	}
	return s.Redis.GetMissingSplitOverrides(ctx)
}

// Ping checks every connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.Redis.Ping(ctx); err != nil {
		return err
	}
	if s.SQL != nil {
		return s.SQL.Ping(ctx)
	}
	return nil
}
