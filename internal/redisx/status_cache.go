package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStatus keeps the parties next to the status so a cache hit can be
// authorized without touching the database.
type CachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	BuyerID   int64     `json:"buyer_id"`
	SellerIDs []int64   `json:"seller_ids"`
}

type StatusCache struct {
	rdb redis.UniversalClient
}

func NewStatusCache(rdb redis.UniversalClient) *StatusCache {
	return &StatusCache{rdb: rdb}
}

const putAttempts = 3

// Put stores cs unless the cache already holds a newer status for the
// order. The compare and the write run under WATCH, so a slow reader that
// loaded an old status cannot overwrite a transition written after it.
func (c *StatusCache) Put(ctx context.Context, orderID string, cs CachedStatus) error {
	cs.UpdatedAt = cs.UpdatedAt.UTC()
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(KeyOrderStatus, orderID)

	put := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var old CachedStatus
			if json.Unmarshal(cur, &old) == nil && old.UpdatedAt.After(cs.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, TTLStatusCache)
			return nil
		})
		return err
	}

	for i := 0; i < putAttempts; i++ {
		err = c.rdb.Watch(ctx, put, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Get reports ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var cs CachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return CachedStatus{}, false, fmt.Errorf("decode cached status %s: %w", orderID, err)
	}
	return cs, true, nil
}
