// Package retention deletes persisted records older than the configured TTL.
package retention

import (
	"context"
	"errors"
	"time"

	"inkgate.org/internal/obs"
	"inkgate.org/internal/record"
)

// Sweeper purges records whose last update predates the TTL. It is idempotent
// and safe to run at startup and on every interval thereafter.
type Sweeper struct {
	purger  record.Purger
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// New constructs a Sweeper. timeout bounds each purge call.
func New(purger record.Purger, ttl, timeout time.Duration) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, errors.New("retention: ttl must be positive")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sweeper{purger: purger, ttl: ttl, timeout: timeout, now: time.Now}, nil
}

// Sweep removes everything older than now minus the TTL.
func (s *Sweeper) Sweep(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := s.now().UTC().Add(-s.ttl)
	purged, err := s.purger.PurgeOlderThan(callCtx, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		obs.LogEvent("info", "retention purge", map[string]any{
			"purged": purged,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return nil
}
