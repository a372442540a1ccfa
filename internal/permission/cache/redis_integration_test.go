//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpass/internal/permission"
	"gridpass/internal/permission/cache"
	"gridpass/internal/platform/logger"
	platformredis "gridpass/internal/platform/redis"
	"gridpass/pkg/testutil/containers"
)

func newCache(t *testing.T, ttl time.Duration) (*cache.Redis, *containers.RedisContainer) {
	t.Helper()
	rc := containers.NewRedisContainer(t)
	client, err := platformredis.New(rc.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedis(client, ttl, logger.Discard()), rc
}

func sampleProjection() permission.Projection {
	end := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	return permission.Projection{
		PermissionID: "pid-1",
		ConnectionID: "conn-1",
		DataNeedID:   "need-1",
		Status:       permission.StatusAccepted,
		Window: &permission.Window{
			Start: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   &end,
		},
		Granularity: permission.GranularityPT1H,
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, time.Minute)

	proj := sampleProjection()
	c.Set(ctx, proj)

	got, ok := c.Get(ctx, proj.PermissionID)
	require.True(t, ok)
	assert.Equal(t, proj.PermissionID, got.PermissionID)
	assert.Equal(t, permission.StatusAccepted, got.Status)
	require.NotNil(t, got.Window)
	assert.True(t, got.Window.Start.Equal(proj.Window.Start))
}

func TestGetMissesUnknownKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, time.Minute)

	_, ok := c.Get(ctx, "pid-unknown")
	assert.False(t, ok)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, time.Minute)

	proj := sampleProjection()
	c.Set(ctx, proj)
	c.Invalidate(ctx, proj.PermissionID)

	_, ok := c.Get(ctx, proj.PermissionID)
	assert.False(t, ok)
}

func TestUndecodableEntryIsDroppedAsMiss(t *testing.T) {
	ctx := context.Background()
	c, rc := newCache(t, time.Minute)

	require.NoError(t, rc.Client.Set(ctx, "gridpass:projection:pid-bad", "not json", time.Minute).Err())

	_, ok := c.Get(ctx, "pid-bad")
	assert.False(t, ok)

	// The corrupt entry is gone after the failed read.
	exists, err := rc.Client.Exists(ctx, "gridpass:projection:pid-bad").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, 100*time.Millisecond)

	c.Set(ctx, sampleProjection())
	time.Sleep(300 * time.Millisecond)

	_, ok := c.Get(ctx, "pid-1")
	assert.False(t, ok)
}
