package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/internal/fxrate/cache"
	fxdomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, rateCache cache.RateCache) fxdomain.Service {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&fxdomain.FxRate{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Cache: rateCache})
}

func TestGetRateResolvesLatestOnOrBefore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.SetRate(ctx, day(2025, 1, 1), "USD/CDF", decimal.NewFromInt(2000))
	require.NoError(t, err)
	_, err = svc.SetRate(ctx, day(2025, 1, 10), "USD/CDF", decimal.NewFromInt(2100))
	require.NoError(t, err)

	rate, err := svc.GetRate(ctx, day(2025, 1, 5), "USD/CDF")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2000)))

	rate, err = svc.GetRate(ctx, day(2025, 1, 15), "USD/CDF")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2100)))

	rate, err = svc.GetRate(ctx, day(2025, 1, 10).Add(23*time.Hour), "usd/cdf")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2100)))

	_, err = svc.GetRate(ctx, day(2024, 12, 31), "USD/CDF")
	assert.ErrorIs(t, err, fxdomain.ErrRateUnavailable)
}

func TestSetRateLastWriterWins(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.SetRate(ctx, day(2025, 2, 1), "USD/CDF", decimal.NewFromInt(2800))
	require.NoError(t, err)
	stored, err := svc.SetRate(ctx, day(2025, 2, 1), "USD/CDF", decimal.RequireFromString("2850.125"))
	require.NoError(t, err)
	assert.Equal(t, "2850.125", stored.Rate.String())

	rows, err := svc.ListRates(ctx, "USD/CDF", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2850.125", rows[0].Rate.String())
}

func TestSetRateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.SetRate(ctx, day(2025, 1, 1), "USD/CDF", decimal.Zero)
	assert.ErrorIs(t, err, fxdomain.ErrInvalidRate)
	_, err = svc.SetRate(ctx, day(2025, 1, 1), "USD/CDF", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, fxdomain.ErrInvalidRate)
	_, err = svc.SetRate(ctx, day(2025, 1, 1), "USDCDF", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, fxdomain.ErrInvalidPair)
	_, err = svc.SetRate(ctx, day(2025, 1, 1), "USD/USD", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, fxdomain.ErrInvalidPair)
	_, err = svc.SetRate(ctx, time.Time{}, "USD/CDF", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, fxdomain.ErrInvalidDate)
	assert.True(t, fxdomain.IsValidationError(err))
}

func TestConvertQuantizes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.SetRate(ctx, day(2025, 1, 1), "USD/CDF", decimal.RequireFromString("2850.125"))
	require.NoError(t, err)

	got, err := svc.Convert(ctx, day(2025, 3, 1), "USD/CDF", money.MustParse("12.34"))
	require.NoError(t, err)
	assert.Equal(t, "35170.54", got.String())

	_, err = svc.Convert(ctx, day(2024, 3, 1), "USD/CDF", money.MustParse("1"))
	assert.ErrorIs(t, err, fxdomain.ErrRateUnavailable)
}

type memoryCache struct {
	version map[string]int
	entries map[string]decimal.Decimal
	missing map[string]bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{version: map[string]int{}, entries: map[string]decimal.Decimal{}, missing: map[string]bool{}}
}

func (c *memoryCache) key(pair string, date time.Time) string {
	return pair + "|" + string(rune('0'+c.version[pair])) + "|" + date.Format("2006-01-02")
}

func (c *memoryCache) Get(_ context.Context, pair string, date time.Time) (decimal.Decimal, bool, bool, string) {
	k := c.key(pair, date)
	if c.missing[k] {
		return decimal.Zero, false, true, k
	}
	rate, ok := c.entries[k]
	return rate, ok, ok, k
}

func (c *memoryCache) Set(_ context.Context, k string, rate decimal.Decimal, ok bool) {
	if !ok {
		c.missing[k] = true
		return
	}
	c.entries[k] = rate
}

func (c *memoryCache) Invalidate(_ context.Context, pair string) error {
	c.version[pair]++
	return nil
}

func TestSetRateInvalidatesCachedResolutions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryCache())

	_, err := svc.GetRate(ctx, day(2025, 1, 5), "USD/CDF")
	assert.ErrorIs(t, err, fxdomain.ErrRateUnavailable)

	_, err = svc.SetRate(ctx, day(2025, 1, 1), "USD/CDF", decimal.NewFromInt(2000))
	require.NoError(t, err)

	rate, err := svc.GetRate(ctx, day(2025, 1, 5), "USD/CDF")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2000)))

	_, err = svc.SetRate(ctx, day(2025, 1, 3), "USD/CDF", decimal.NewFromInt(2050))
	require.NoError(t, err)

	rate, err = svc.GetRate(ctx, day(2025, 1, 5), "USD/CDF")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2050)))
}
