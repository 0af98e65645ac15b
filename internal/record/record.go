// Package record defines the tenant-scoped persistence contract shared by the
// file and Postgres backends.
package record

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record: not found")
	ErrInvalidInput = errors.New("record: invalid input")

	// ErrStorageUnavailable marks failures the caller should treat as a
	// transient outage: the write goes to the pending queue instead of failing
	// the request.
	ErrStorageUnavailable = errors.New("record: storage unavailable")
)

// Record is a persisted tenant document. The (OrgID, UserID, ContentHash)
// triple is the primary key; writes to the same triple overwrite (last write
// wins).
type Record struct {
	OrgID       string          `json:"org_id"`
	UserID      string          `json:"user_id"`
	ContentHash string          `json:"content_hash"`
	Payload     json.RawMessage `json:"payload"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Store is the uniform persistence contract. Backends guarantee identical
// external behavior: same key, same upsert semantics, same tenant isolation.
// All methods honor ctx deadlines; callers bound every call with a timeout.
type Store interface {
	Upsert(ctx context.Context, orgID, userID, contentHash string, payload json.RawMessage) (Record, error)
	Get(ctx context.Context, orgID, userID, contentHash string) (Record, error)
	ListByTenant(ctx context.Context, orgID, userID string) ([]Record, error)
	DeleteByTenant(ctx context.Context, orgID, userID string) (int, error)
}

// Purger is the maintenance-side contract used by the retention sweeper. It is
// separate from Store because purging crosses tenant boundaries.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ContentHash derives the storage key for a payload when the client does not
// supply one.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidateKey rejects empty or oversized key parts before they reach a backend.
func ValidateKey(orgID, userID, contentHash string) error {
	for _, part := range []string{orgID, userID, contentHash} {
		if part == "" || len(part) > 256 {
			return ErrInvalidInput
		}
	}
	return nil
}
