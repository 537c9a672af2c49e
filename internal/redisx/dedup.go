package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup marks event ids as handled by one consuming service.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

// Seen marks id and reports whether it had been marked before.
func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), "1", TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget unmarks id so a redelivery is handled again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err()
}
