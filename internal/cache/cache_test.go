package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmodel"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/kvstore"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/value"
)

func newTestCache(capacity int) (*Cache, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	return New(kvstore.NewMemStore(), clk, nil, capacity), clk
}

func sampleConfig() configmodel.Config {
	return configmodel.Config{"flag_a": {Value: value.Bool(true)}}
}

func TestL1Capacity(t *testing.T) {
	assert.Equal(t, 16, L1Capacity(0))
	assert.Equal(t, 16, L1Capacity(-5))
	assert.Equal(t, 5000, L1Capacity(10))
}

func TestStore_ZeroTTLIsNoOp(t *testing.T) {
	c, _ := newTestCache(16)
	err := c.Store(context.Background(), "k", sampleConfig(), "", "", Policy{TTLSeconds: 0})
	require.NoError(t, err)

	_, ok := c.Load(context.Background(), "k", false)
	assert.False(t, ok, "a zero-TTL store must never become visible to Load")
}

func TestStoreAndLoad_MemoryHit(t *testing.T) {
	c, _ := newTestCache(16)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "k", sampleConfig(), "lm", "etag1", Standard))

	entry, ok := c.Load(ctx, "k", false)
	require.True(t, ok)
	assert.Equal(t, "lm", entry.LastModified)
	assert.Equal(t, "etag1", entry.ETag)
}

func TestLoad_ExpiredEntryIsMissWithoutAllowExpired(t *testing.T) {
	c, clk := newTestCache(16)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "k", sampleConfig(), "", "", Policy{TTLSeconds: 60, Persist: true}))
	clk.Advance(61 * time.Second)

	_, ok := c.Load(ctx, "k", false)
	assert.False(t, ok)
}

func TestLoad_ExpiredEntryIsStaleHitWithAllowExpired(t *testing.T) {
	c, clk := newTestCache(16)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "k", sampleConfig(), "lm", "etag1", Policy{TTLSeconds: 60, Persist: true}))
	clk.Advance(61 * time.Second)

	entry, ok := c.Load(ctx, "k", true)
	require.True(t, ok, "stale-while-revalidate should still surface the last-known entry")
	assert.Equal(t, "etag1", entry.ETag)
}

func TestLoad_FallsBackToDiskOnL1Miss(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	disk := kvstore.NewMemStore()
	ctx := context.Background()

	writer := New(disk, clk, nil, 16)
	require.NoError(t, writer.Store(ctx, "k", sampleConfig(), "lm", "etag1", Standard))

	reader := New(disk, clk, nil, 16)
	entry, ok := reader.Load(ctx, "k", false)
	require.True(t, ok, "a fresh Cache sharing the disk tier should still find the entry")
	assert.Equal(t, "etag1", entry.ETag)
}

func TestStore_NotPersistedWhenPolicySaysSo(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	disk := kvstore.NewMemStore()
	ctx := context.Background()

	writer := New(disk, clk, nil, 16)
	require.NoError(t, writer.Store(ctx, "k", sampleConfig(), "", "", Policy{TTLSeconds: 60, Persist: false}))

	reader := New(disk, clk, nil, 16)
	_, ok := reader.Load(ctx, "k", false)
	assert.False(t, ok, "an unpersisted entry must not be visible from a different Cache over the same disk store")
}

func TestClear_SpecificKeys(t *testing.T) {
	c, _ := newTestCache(16)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", sampleConfig(), "", "", Standard))
	require.NoError(t, c.Store(ctx, "b", sampleConfig(), "", "", Standard))

	c.Clear(ctx, "a")

	_, ok := c.Load(ctx, "a", false)
	assert.False(t, ok)
	_, ok = c.Load(ctx, "b", false)
	assert.True(t, ok)
}

func TestClear_AllKeys(t *testing.T) {
	c, _ := newTestCache(16)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", sampleConfig(), "", "", Standard))
	require.NoError(t, c.Store(ctx, "b", sampleConfig(), "", "", Standard))

	c.Clear(ctx)

	_, ok := c.Load(ctx, "a", false)
	assert.False(t, ok)
	_, ok = c.Load(ctx, "b", false)
	assert.False(t, ok)
}

func TestL1EvictionFallsThroughToDisk(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	disk := kvstore.NewMemStore()
	ctx := context.Background()
	c := New(disk, clk, nil, 1)

	require.NoError(t, c.Store(ctx, "a", sampleConfig(), "", "etagA", Standard))
	require.NoError(t, c.Store(ctx, "b", sampleConfig(), "", "etagB", Standard))

	entry, ok := c.Load(ctx, "a", false)
	require.True(t, ok, "evicted-from-L1 entries must still be recoverable from L2")
	assert.Equal(t, "etagA", entry.ETag)
}
