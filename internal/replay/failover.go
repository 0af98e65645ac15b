package replay

import (
	"context"
	"time"

	"inkgate.org/internal/obs"
)

// Failover serves dedup operations from a primary cache and degrades to a
// local fallback when the primary errors. Successful primary writes are
// mirrored into the fallback so a later failover still sees recently used
// identifiers. Degradations are counted; they indicate the replay guarantee
// has narrowed from shared to per-instance scope.
type Failover struct {
	primary  Cache
	fallback Cache
}

// NewFailover wires a primary cache with its fallback.
func NewFailover(primary, fallback Cache) *Failover {
	return &Failover{primary: primary, fallback: fallback}
}

func (f *Failover) Put(ctx context.Context, key string, ttl time.Duration) error {
	if err := f.primary.Put(ctx, key, ttl); err != nil {
		obs.ReplayCacheFallbacks.Inc()
		return f.fallback.Put(ctx, key, ttl)
	}
	_ = f.fallback.Put(ctx, key, ttl)
	return nil
}

func (f *Failover) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	stored, err := f.primary.PutIfAbsent(ctx, key, ttl)
	if err != nil {
		obs.ReplayCacheFallbacks.Inc()
		return f.fallback.PutIfAbsent(ctx, key, ttl)
	}
	if stored {
		// Mirror so the fallback rejects the id if the primary disappears.
		_ = f.fallback.Put(ctx, key, ttl)
		return true, nil
	}
	return false, nil
}

func (f *Failover) Exists(ctx context.Context, key string) (bool, error) {
	found, err := f.primary.Exists(ctx, key)
	if err != nil {
		obs.ReplayCacheFallbacks.Inc()
		return f.fallback.Exists(ctx, key)
	}
	if found {
		return true, nil
	}
	// The primary may have lost state the fallback still holds.
	return f.fallback.Exists(ctx, key)
}
