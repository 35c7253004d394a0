package port

import (
	"context"
	"time"
)

// CacheRepository is the derived read-side cache. It never holds
// authoritative inventory values: readers fall back to the ledger on a miss
// and writers only ever invalidate after a committed mutation.
type CacheRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}
