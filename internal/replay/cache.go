// Package replay tracks single-use assertion identifiers so a credential
// presented once is never accepted again inside its validity window.
package replay

import (
	"context"
	"time"
)

// Cache is a key store with per-key expiry. Put is the only mutation; Exists
// never extends a key's TTL. PutIfAbsent is the atomic check-then-set used by
// the assertion verifier: of two concurrent calls with the same key, at most
// one observes stored=true.
type Cache interface {
	Put(ctx context.Context, key string, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (stored bool, err error)
	Exists(ctx context.Context, key string) (bool, error)
}
