package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestIdempotency_ClaimCompleteReplay(t *testing.T) {
	_, rdb := setupRedis(t)
	idem := NewIdempotency(rdb)
	ctx := context.Background()

	_, claimed, err := idem.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, _, err = idem.Begin(ctx, 1, "k1")
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, idem.Complete(ctx, 1, "k1", "order-1"))

	orderID, claimed, err := idem.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", orderID)

	_, claimed, err = idem.Begin(ctx, 2, "k1")
	require.NoError(t, err)
	assert.True(t, claimed, "keys are scoped per buyer")
}

func TestIdempotency_ReleaseAndPendingExpiry(t *testing.T) {
	mr, rdb := setupRedis(t)
	idem := NewIdempotency(rdb)
	ctx := context.Background()

	_, claimed, err := idem.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, idem.Release(ctx, 1, "k1"))

	_, claimed, err = idem.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	mr.FastForward(TTLIdemPending + time.Second)
	_, claimed, err = idem.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.True(t, claimed, "a crashed request must not hold the key forever")
}

func TestStatusCache(t *testing.T) {
	mr, rdb := setupRedis(t)
	cache := NewStatusCache(rdb)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	pending := CachedStatus{Status: "PENDING", UpdatedAt: at, BuyerID: 1, SellerIDs: []int64{10, 11}}

	_, ok, err := cache.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "o-1", pending))
	got, ok, err := cache.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pending, got)
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:o-1"))

	mr.FastForward(TTLStatusCache + time.Second)
	_, ok, err = cache.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("order_status:o-2", "{not json"))
	_, _, err = cache.Get(ctx, "o-2")
	assert.Error(t, err)
}

func TestStatusCache_OlderStatusNeverOverwritesNewer(t *testing.T) {
	_, rdb := setupRedis(t)
	cache := NewStatusCache(rdb)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	approved := CachedStatus{Status: "APPROVED", UpdatedAt: at.Add(time.Minute), BuyerID: 1}
	require.NoError(t, cache.Put(ctx, "o-1", approved))

	require.NoError(t, cache.Put(ctx, "o-1", CachedStatus{Status: "PENDING", UpdatedAt: at, BuyerID: 1}))
	got, ok, err := cache.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "APPROVED", got.Status)

	cancelled := CachedStatus{Status: "CANCELLED", UpdatedAt: at.Add(2 * time.Minute), BuyerID: 1}
	require.NoError(t, cache.Put(ctx, "o-1", cancelled))
	got, _, err = cache.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", got.Status)
}

func TestDedup(t *testing.T) {
	_, rdb := setupRedis(t)
	d := NewDedup(rdb, "notifier")
	ctx := context.Background()

	seen, err := d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, d.Forget(ctx, "ev-1"))
	seen, err = d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestPing(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	require.NoError(t, Ping(context.Background(), rdb))

	mr.Close()
	assert.Error(t, Ping(context.Background(), rdb))
}
