package redisx

import "time"

const (
	// Idempotent placement: idem:order:place:{buyer_id}:{key} -> "pending" | order_id
	KeyIdemOrderPlace = "idem:order:place:%d:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemPending = 30 * time.Second
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
