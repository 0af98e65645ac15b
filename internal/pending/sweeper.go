package pending

import (
	"context"
	"time"

	"inkgate.org/internal/obs"
	"inkgate.org/internal/record"
)

// Sweeper replays staged writes against the tenant store. One failed entry
// does not stop the batch, and replaying an entry reuses the upsert key the
// original request carried, so a retry after a half-applied outage converges
// on the same record instead of duplicating it.
type Sweeper struct {
	queue   *Queue
	store   record.Store
	timeout time.Duration
}

// NewSweeper wires a queue to its destination store. timeout bounds each
// individual upsert so a hung backend cannot stall the loop.
func NewSweeper(queue *Queue, store record.Store, timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sweeper{queue: queue, store: store, timeout: timeout}
}

// Sweep processes the current batch to completion. Shutdown is checked
// between entries, not mid-upsert.
func (s *Sweeper) Sweep(ctx context.Context) error {
	entries, err := s.queue.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.replay(ctx, entry); err != nil {
			obs.LogEvent("warn", "pending replay failed", map[string]any{
				"id":       entry.ID,
				"org_id":   entry.OrgID,
				"attempts": entry.Attempts + 1,
				"error":    err.Error(),
			})
			if err := s.queue.Fail(entry); err != nil {
				obs.LogEvent("error", "pending bookkeeping failed", map[string]any{
					"id": entry.ID, "error": err.Error(),
				})
			}
			continue
		}
		if err := s.queue.Remove(entry.ID); err != nil {
			obs.LogEvent("error", "pending remove failed", map[string]any{
				"id": entry.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

func (s *Sweeper) replay(ctx context.Context, entry Entry) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	hash := entry.ContentHash
	if hash == "" {
		// Entries written before the hash was recorded.
		hash = record.ContentHash(entry.Payload)
	}
	_, err := s.store.Upsert(callCtx, entry.OrgID, entry.UserID, hash, entry.Payload)
	return err
}
