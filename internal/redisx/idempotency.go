package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight means an earlier request with the same key has not finished.
var ErrInFlight = errors.New("idempotency key in flight")

const pendingMarker = "pending"

// Idempotency remembers which order a client-chosen key produced, per buyer.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Begin claims key. claimed is true when the caller should go ahead and place
// the order; otherwise orderID is the order an earlier request created.
func (i *Idempotency) Begin(ctx context.Context, buyerID int64, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderPlace, buyerID, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, TTLIdemPending).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	v, err := i.rdb.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil), v == pendingMarker:
		return "", false, ErrInFlight
	case err != nil:
		return "", false, err
	}
	return v, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, buyerID int64, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderPlace, buyerID, key), orderID, TTLIdempotency).Err()
}

// Release drops a claim whose placement failed so the client may retry.
func (i *Idempotency) Release(ctx context.Context, buyerID int64, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderPlace, buyerID, key)).Err()
}
