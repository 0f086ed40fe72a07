//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/services"
)

func TestRedisPoolCache_Integration(t *testing.T) {
	url := os.Getenv("GRANTS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GRANTS_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisPoolCache(client, time.Minute)
	c.prefix = "grants:pool:test:" + uuid.NewString()

	cycleID := uuid.New()
	key := services.PoolCacheKey(&cycleID)
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	report := pool.Report{
		CycleID: &cycleID,
		Totals:  pool.Totals{Included: decimal.RequireFromString("600.25")}.Summary(),
		ByState: []pool.StateLine{{State: "Kassala", Allocated: decimal.NewFromInt(100)}},
	}
	require.NoError(t, c.Set(ctx, key, report))
	require.NoError(t, c.Set(ctx, services.PoolCacheKey(nil), report))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Totals.Remaining.Equal(decimal.RequireFromString("600.25")))
	require.Equal(t, "Kassala", got.ByState[0].State)

	require.NoError(t, c.Invalidate(ctx, cycleID))
	for _, k := range []string{key, services.PoolCacheKey(nil)} {
		_, ok, err := c.Get(ctx, k)
		require.NoError(t, err)
		require.False(t, ok)
	}
}
