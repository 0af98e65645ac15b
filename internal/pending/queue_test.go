package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"inkgate.org/internal/record"
	"inkgate.org/internal/record/filestore"
)

func newQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q, err := New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestEnqueueListRemove(t *testing.T) {
	q := newQueue(t)

	first, err := q.Enqueue("acme", "u1", "", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := q.Enqueue("acme", "u1", "", json.RawMessage(`{"x":2}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Fatalf("entries not in enqueue order: %v then %v", entries[0].ID, entries[1].ID)
	}

	if err := q.Remove(first.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, _ = q.List()
	if len(entries) != 1 || entries[0].ID != second.ID {
		t.Fatalf("unexpected remainder: %+v", entries)
	}
}

func TestEntrySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	q, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entry, err := q.Enqueue("acme", "u1", "", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	entries, err := reopened.List()
	if err != nil || len(entries) != 1 || entries[0].ID != entry.ID {
		t.Fatalf("entry lost across reopen: %+v err=%v", entries, err)
	}
}

func TestFailStallsAfterBudget(t *testing.T) {
	q := newQueue(t, WithMaxAttempts(2))
	entry, err := q.Enqueue("acme", "u1", "", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.Fail(entry); err != nil {
		t.Fatalf("Fail 1: %v", err)
	}
	entries, _ := q.List()
	if len(entries) != 1 || entries[0].Attempts != 1 {
		t.Fatalf("expected attempts=1, got %+v", entries)
	}

	if err := q.Fail(entries[0]); err != nil {
		t.Fatalf("Fail 2: %v", err)
	}
	entries, _ = q.List()
	if len(entries) != 0 {
		t.Fatalf("stalled entry must leave the active queue: %+v", entries)
	}
	stalled, err := q.StalledIDs()
	if err != nil || len(stalled) != 1 || stalled[0] != entry.ID {
		t.Fatalf("stalled entry must remain observable: %v err=%v", stalled, err)
	}
}

// flakyStore fails until healed, then delegates to a real store.
type flakyStore struct {
	mu     sync.Mutex
	healed bool
	inner  record.Store
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healed = true
}

func (f *flakyStore) Upsert(ctx context.Context, orgID, userID, hash string, payload json.RawMessage) (record.Record, error) {
	f.mu.Lock()
	healed := f.healed
	f.mu.Unlock()
	if !healed {
		return record.Record{}, record.ErrStorageUnavailable
	}
	return f.inner.Upsert(ctx, orgID, userID, hash, payload)
}

func (f *flakyStore) Get(ctx context.Context, orgID, userID, hash string) (record.Record, error) {
	return f.inner.Get(ctx, orgID, userID, hash)
}

func (f *flakyStore) ListByTenant(ctx context.Context, orgID, userID string) ([]record.Record, error) {
	return f.inner.ListByTenant(ctx, orgID, userID)
}

func (f *flakyStore) DeleteByTenant(ctx context.Context, orgID, userID string) (int, error) {
	return f.inner.DeleteByTenant(ctx, orgID, userID)
}

func TestSweepReplaysAfterOutage(t *testing.T) {
	q := newQueue(t)
	inner, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	store := &flakyStore{inner: inner}
	sweeper := NewSweeper(q, store, time.Second)
	ctx := context.Background()

	payload := json.RawMessage(`{"x":1}`)
	if _, err := q.Enqueue("acme", "u1", record.ContentHash(payload), payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Outage still in effect: entry stays queued with one more attempt.
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	entries, _ := q.List()
	if len(entries) != 1 || entries[0].Attempts != 1 {
		t.Fatalf("expected retained entry with attempts=1, got %+v", entries)
	}

	store.heal()
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep after heal: %v", err)
	}
	entries, _ = q.List()
	if len(entries) != 0 {
		t.Fatalf("replayed entry must be removed: %+v", entries)
	}

	rec, err := inner.Get(ctx, "acme", "u1", record.ContentHash(payload))
	if err != nil {
		t.Fatalf("record not persisted after replay: %v", err)
	}
	if string(rec.Payload) != `{"x":1}` {
		t.Fatalf("unexpected payload: %s", rec.Payload)
	}

	// A second sweep is a no-op: no duplicate side effects.
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("idempotent Sweep: %v", err)
	}
	list, _ := inner.ListByTenant(ctx, "acme", "u1")
	if len(list) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(list))
	}
}

func TestSweepReplaysUnderOriginalKey(t *testing.T) {
	q := newQueue(t)
	inner, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	sweeper := NewSweeper(q, inner, time.Second)
	ctx := context.Background()

	// A caller-chosen key must survive the queued path.
	payload := json.RawMessage(`{"x":1}`)
	if _, err := q.Enqueue("acme", "u1", "custom-key", payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := inner.Get(ctx, "acme", "u1", "custom-key"); err != nil {
		t.Fatalf("record not stored under the carried key: %v", err)
	}
	if _, err := inner.Get(ctx, "acme", "u1", record.ContentHash(payload)); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("record must not duplicate under the derived key: %v", err)
	}

	// Entries without a recorded key fall back to the derived one.
	if _, err := q.Enqueue("acme", "u2", "", payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := inner.Get(ctx, "acme", "u2", record.ContentHash(payload)); err != nil {
		t.Fatalf("fallback key not used: %v", err)
	}
}
