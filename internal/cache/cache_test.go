package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"branchpos/backend/internal/domain"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedis(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))
	return c, mr
}

func sampleCart() domain.Cart {
	price := decimal.RequireFromString("9.99")
	return domain.Cart{
		Lines: []domain.CartLine{{
			ProductID:   1,
			ProductName: "Widget",
			Quantity:    2,
			UnitPrice:   price,
			Subtotal:    price.Mul(decimal.NewFromInt(2)),
		}},
		Total: price.Mul(decimal.NewFromInt(2)),
	}
}

func TestRedisCartRoundTripAndExpiry(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	empty, err := c.LoadCart(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, empty.Lines)

	require.NoError(t, c.SaveCart(ctx, "s1", sampleCart(), time.Minute))
	got, err := c.LoadCart(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	require.Equal(t, "19.98", got.Total.StringFixed(2))

	mr.FastForward(2 * time.Minute)
	got, err = c.LoadCart(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, got.Lines)
}

func TestRedisRevokeDropsCart(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SaveCart(ctx, "s2", sampleCart(), time.Hour))
	require.NoError(t, c.Revoke(ctx, "s2", time.Hour))

	revoked, err := c.IsRevoked(ctx, "s2")
	require.NoError(t, err)
	require.True(t, revoked)

	cart, err := c.LoadCart(ctx, "s2")
	require.NoError(t, err)
	require.Empty(t, cart.Lines)

	other, err := c.IsRevoked(ctx, "s3")
	require.NoError(t, err)
	require.False(t, other)
}

func TestRedisMetricsCache(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	_, found, err := c.GetMetrics(ctx, "admin")
	require.NoError(t, err)
	require.False(t, found)

	metrics := &domain.DashboardMetrics{Scope: "global", TotalRevenue: decimal.NewFromInt(50), TotalSales: 2}
	require.NoError(t, c.SetMetrics(ctx, "admin", metrics, 10*time.Second))

	got, found, err := c.GetMetrics(ctx, "admin")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, got.TotalSales)
	require.True(t, got.TotalRevenue.Equal(decimal.NewFromInt(50)))

	mr.FastForward(11 * time.Second)
	_, found, err = c.GetMetrics(ctx, "admin")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisInvalidateMetricsDropsOnlyDashboardKeys(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.InvalidateMetrics(ctx))

	metrics := &domain.DashboardMetrics{Scope: "global", TotalSales: 1}
	require.NoError(t, c.SetMetrics(ctx, "global", metrics, time.Minute))
	require.NoError(t, c.SetMetrics(ctx, "user:2", metrics, time.Minute))
	require.NoError(t, c.SaveCart(ctx, "s1", sampleCart(), time.Minute))

	require.NoError(t, c.InvalidateMetrics(ctx))

	for _, key := range []string{"global", "user:2"} {
		_, found, err := c.GetMetrics(ctx, key)
		require.NoError(t, err)
		require.False(t, found, key)
	}
	require.True(t, mr.Exists(cartKey("s1")))
}

func TestRedisLockIsExclusive(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	release, err := c.Obtain(ctx, "closing:7", 5*time.Second)
	require.NoError(t, err)

	_, err = c.Obtain(ctx, "closing:7", 5*time.Second)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	release, err = c.Obtain(ctx, "closing:7", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.SaveCart(ctx, "s1", sampleCart(), time.Minute))
	cart, err := store.LoadCart(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)

	cart.Lines[0].Quantity = 99
	again, err := store.LoadCart(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, again.Lines[0].Quantity)

	now = now.Add(time.Minute)
	expired, err := store.LoadCart(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, expired.Lines)

	require.NoError(t, store.Revoke(ctx, "s1", time.Hour))
	revoked, err := store.IsRevoked(ctx, "s1")
	require.NoError(t, err)
	require.True(t, revoked)

	now = now.Add(2 * time.Hour)
	revoked, err = store.IsRevoked(ctx, "s1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)
	_, err = locker.Obtain(ctx, "k", time.Second)
	require.ErrorIs(t, err, ErrLocked)
	require.NoError(t, release(ctx))

	_, err = locker.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)
}
