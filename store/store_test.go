package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/etnz/memdb/asset"
	"github.com/etnz/memdb/date"
	"github.com/etnz/memdb/history"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory Client.
type fakeClient struct {
	strings map[string]string
	hashes  map[string]map[string]string
	fail    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{strings: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (c *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if c.fail != nil {
		return redis.NewStringResult("", c.fail)
	}
	v, ok := c.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *fakeClient) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	if c.fail != nil {
		return redis.NewStringResult("", c.fail)
	}
	v, ok := c.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *fakeClient) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if c.hashes[key] == nil {
		c.hashes[key] = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		var v string
		switch x := values[i+1].(type) {
		case []byte:
			v = string(x)
		default:
			v = fmt.Sprint(x)
		}
		c.hashes[key][fmt.Sprint(values[i])] = v
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (c *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", c.fail)
}

const (
	usersJSON = `[
		{"id":42,"name":"jdoe","email":"jd@example.com","firstname":"john","lastname":"Doe","isadmin":1,"visibleusers":"asmith"},
		{"id":43,"name":"asmith","firstname":"Ann","lastname":"Smith"}
	]`
	assetsJSON = `{
		"C":[["1","USD","US Dollar","",""]],
		"D":[["2","HUF","Hungarian Forint","","USD","USDHUF"]],
		"I":[["1","SPX","S&P 500","","USD"]],
		"R":[],
		"N":[["1","JD.IM","IB Main NAV, JD","","USD","jdoe","gw1"],["2","JD.ID","IB second NAV, JD","","USD","jdoe","gw1"],["3","XX.IM","orphan","","USD","nobody",""]],
		"A":[["5","AAPL","Apple Inc","","","","","","Information Technology",""]],
		"S":[
			["1","SPY","SPDR S&P 500","SPY","USD","ETF","NYSEARCA","","","","","","","",""],
			["2","AAPL","Apple Inc","Apple","USD","Stock","NASDAQ","","","","","","","US0378331005",""],
			["3",7,"Missing Co","","USD","Stock","NYSE","","","","","","","",""]
		],
		"P":[]
	}`
)

func TestDecodeUsers(t *testing.T) {
	users, err := DecodeUsers([]byte(usersJSON))
	require.NoError(t, err)
	require.Len(t, users, 2)
	jd := users[0]
	assert.Equal(t, "jdoe", jd.Username)
	assert.Equal(t, "JD", jd.Initials)
	assert.True(t, jd.IsAdmin)
	assert.True(t, jd.IsHuman())
	require.Len(t, jd.VisibleUsers, 1)
	assert.Same(t, users[1], jd.VisibleUsers[0])
	assert.Empty(t, users[1].VisibleUsers)
}

func TestDecodeAssets(t *testing.T) {
	users, err := DecodeUsers([]byte(usersJSON))
	require.NoError(t, err)
	assets, err := DecodeAssets([]byte(assetsJSON), users)
	// the orphan NAV and the stock without company are reported, not fatal
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
	assert.Contains(t, err.Error(), "company")

	tickers := make(map[string]asset.Asset)
	for _, a := range assets {
		tickers[a.Ticker()] = a
	}
	assert.Len(t, assets, 8)
	for _, want := range []string{"C/USD", "D/HUF.USD", "I/SPX", "N/JD.IM", "N/JD.ID", "A/AAPL", "S/SPY^N", "S/AAPL^N"} {
		assert.Contains(t, tickers, want)
	}
	aapl, ok := tickers["S/AAPL^N"].(*asset.Stock)
	require.True(t, ok)
	require.NotNil(t, aapl.Company)
	assert.Equal(t, "A/AAPL", aapl.Company.Ticker())
	assert.Equal(t, "Apple", aapl.ShortName())
	assert.Equal(t, asset.NewID(asset.TypeStock, 2), aapl.ID())

	nav := tickers["N/JD.IM"].(*asset.BrokerNav)
	assert.Equal(t, "gw1", nav.GatewayID)
	assert.Same(t, users[0], nav.User)

	_, err = DecodeAssets([]byte(`{"P":[["1","x","x","","USD"]]}`), users)
	assert.Error(t, err)
}

func TestApplyHistorySpans(t *testing.T) {
	spy := asset.NewStock(asset.NewID(asset.TypeStock, 1), asset.StockInfo{Symbol: "SPY"})
	err := ApplyHistorySpans([]byte(`{"S/SPY":{"LoadPrHist":"Date:2020-01-02"},"S/QQQ":{"LoadPrHist":"1y"}}`), []asset.Asset{spy}, date.New(2024, 3, 10))
	assert.ErrorIs(t, err, asset.ErrNotFound)
	assert.Equal(t, date.New(2020, 1, 2), spy.HistoryStart())
}

func newTestRedis(t *testing.T) (*Redis, *fakeClient) {
	t.Helper()
	c := newFakeClient()
	r, err := NewRedis(c, nil)
	require.NoError(t, err)
	r.today = func() date.Date { return date.New(2024, 3, 10) }
	return r, c
}

func TestGetDataIfReloadNeeded(t *testing.T) {
	r, c := newTestRedis(t)
	ctx := context.Background()

	// an empty store is still a first load
	data, changed, err := r.GetDataIfReloadNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, data.Assets)

	_, changed, err = r.GetDataIfReloadNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	c.strings[keyUsers] = usersJSON
	c.hashes[keyMemDb] = map[string]string{fieldAssets: assetsJSON, fieldSpans: `{"S/SPY^N":{"LoadPrHist":"2m"}}`}
	data, changed, err = r.GetDataIfReloadNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, data.Users, 2)
	assert.Len(t, data.Assets, 8)
	for _, a := range data.Assets {
		if a.Ticker() == "S/SPY^N" {
			assert.Equal(t, date.New(2024, 1, 9), a.HistoryStart())
		}
	}

	_, changed, err = r.GetDataIfReloadNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	c.fail = errors.New("connection refused")
	_, _, err = r.GetDataIfReloadNeeded(ctx)
	assert.Error(t, err)
}

func TestAssetQuoteRaw(t *testing.T) {
	r, c := newTestRedis(t)
	ctx := context.Background()
	id := asset.NewID(asset.TypeBrokerNAV, 1)

	raw, err := r.GetAssetQuoteRaw(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, raw)

	const want = "D/C,20090102/16460,20090105/16620"
	require.NoError(t, r.SetAssetQuoteRaw(ctx, id, want))
	stored := c.hashes[keyQuoteRaw]["11:1.zst"]
	assert.NotEmpty(t, stored)
	assert.NotEqual(t, want, stored)

	raw, err = r.GetAssetQuoteRaw(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, raw)

	c.hashes[keyQuoteRaw]["11:1.zst"] = "not zstd"
	_, err = r.GetAssetQuoteRaw(ctx, id)
	assert.Error(t, err)
}

func TestRedisDeposits(t *testing.T) {
	r, c := newTestRedis(t)
	id := asset.NewID(asset.TypeBrokerNAV, 1)
	c.hashes[keyNavDeposits] = map[string]string{
		"11:1.zst": string(r.enc.EncodeAll([]byte("20200410/50000,20200323/-1000000"), nil)),
	}
	got, err := r.GetAssetDeposits(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []history.Deposit{
		{Date: date.New(2020, 3, 23), Amount: -1000000},
		{Date: date.New(2020, 4, 10), Amount: 50000},
	}, got)
}

func TestRedisSplitOverrides(t *testing.T) {
	r, c := newTestRedis(t)
	ctx := context.Background()

	got, err := r.GetMissingSplitOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	c.hashes[keyMemDb] = map[string]string{fieldSplits: `{"S/TQQQ":[{"Date":"2020-04-29","Before":1,"After":2}]}`}
	got, err = r.GetMissingSplitOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, got["S/TQQQ"], 1)
	s := got["S/TQQQ"][0]
	assert.Equal(t, date.New(2020, 4, 29), s.Date)
	m, err := s.Multiplier()
	require.NoError(t, err)
	assert.Equal(t, 0.5, m)
}

func newTestPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresDeposits(t *testing.T) {
	p, mock := newTestPostgres(t)
	id := asset.NewID(asset.TypeBrokerNAV, 2)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT day, amount FROM nav_deposit WHERE asset_id = $1 ORDER BY day`)).
		WithArgs(int64(id)).
		WillReturnRows(sqlmock.NewRows([]string{"day", "amount"}).
			AddRow(time.Date(2020, 3, 23, 0, 0, 0, 0, time.UTC), -1000000.0).
			AddRow(time.Date(2020, 4, 10, 0, 0, 0, 0, time.UTC), 50000.0))

	got, err := p.GetAssetDeposits(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []history.Deposit{
		{Date: date.New(2020, 3, 23), Amount: -1000000},
		{Date: date.New(2020, 4, 10), Amount: 50000},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSplitOverrides(t *testing.T) {
	p, mock := newTestPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ticker, day, before, after FROM split_override ORDER BY ticker, day`)).
		WillReturnRows(sqlmock.NewRows([]string{"ticker", "day", "before", "after"}).
			AddRow("S/TQQQ", time.Date(2020, 4, 29, 0, 0, 0, 0, time.UTC), "1", "2").
			AddRow("S/VXX", time.Date(2023, 3, 28, 0, 0, 0, 0, time.UTC), "4", "1"))

	got, err := p.GetMissingSplitOverrides(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	vxx := got["S/VXX"][0]
	assert.True(t, vxx.Before.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, date.New(2023, 3, 28), vxx.Date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresError(t *testing.T) {
	p, mock := newTestPostgres(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))
	_, err := p.GetMissingSplitOverrides(context.Background())
	assert.Error(t, err)
}

func TestStoreRouting(t *testing.T) {
	r, c := newTestRedis(t)
	c.hashes[keyMemDb] = map[string]string{fieldSplits: `{"S/A":[{"Date":"2020-04-29","Before":1,"After":2}]}`}
	p, mock := newTestPostgres(t)
	mock.ExpectQuery("SELECT ticker").WillReturnRows(sqlmock.NewRows([]string{"ticker", "day", "before", "after"}))

	s := &Store{Redis: r}
	got, err := s.GetMissingSplitOverrides(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "S/A")

	s.SQL = p
	got, err = s.GetMissingSplitOverrides(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
