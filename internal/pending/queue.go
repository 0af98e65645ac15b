// Package pending stages writes that failed against the tenant store and
// replays them once storage recovers. Entries live as files so a crash loses
// nothing; an entry that exhausts its retry budget is flagged for operator
// inspection, never silently dropped.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"inkgate.org/internal/ids"
	"inkgate.org/internal/obs"
)

const (
	entryExt           = ".json"
	stalledExt         = ".stalled"
	defaultMaxAttempts = 10
)

// Entry is one staged write. ContentHash is the upsert key the original
// request carried; replay reuses it so a queued write lands on the same
// record the direct path would have produced.
type Entry struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	UserID      string          `json:"user_id"`
	ContentHash string          `json:"content_hash"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	Attempts    int             `json:"attempts"`
}

// Queue is the durable staging area. Filenames are ULIDs, so directory order
// is creation order and concurrent enqueues cannot collide.
type Queue struct {
	dir         string
	maxAttempts int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New creates the queue directory if needed.
func New(dir string, opts ...Option) (*Queue, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pending: queue directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("pending: create %s: %w", dir, err)
	}
	q := &Queue{dir: dir, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(q)
	}
	q.refreshGauges()
	return q, nil
}

// Enqueue stages a write. It is called after the tenant store already failed,
// so its own errors are returned for logging but the caller still answers
// "accepted, queued" to its client.
func (q *Queue) Enqueue(orgID, userID, contentHash string, payload json.RawMessage) (Entry, error) {
	entry := Entry{
		ID:          ids.New(),
		OrgID:       orgID,
		UserID:      userID,
		ContentHash: contentHash,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("pending: encode entry: %w", err)
	}
	target := filepath.Join(q.dir, entry.ID+entryExt)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return Entry{}, fmt.Errorf("pending: write entry: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return Entry{}, fmt.Errorf("pending: write entry: %w", err)
	}
	q.refreshGauges()
	return entry, nil
}

// List returns active entries oldest-first. Stalled entries are excluded.
func (q *Queue) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("pending: read %s: %w", q.dir, err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entryExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.dir, de.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pending: read entry %s: %w", de.Name(), err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			fields := map[string]any{
				"file": de.Name(), "error": err.Error(),
			}
			// The body is unreadable, but the ULID filename still dates the
			// write that is about to be skipped.
			if created, ok := ids.CreatedAt(strings.TrimSuffix(de.Name(), entryExt)); ok {
				fields["created_at"] = created.UTC().Format(time.RFC3339)
			}
			obs.LogEvent("error", "pending entry corrupt", fields)
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Remove deletes a successfully replayed entry.
func (q *Queue) Remove(id string) error {
	err := os.Remove(filepath.Join(q.dir, id+entryExt))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pending: remove %s: %w", id, err)
	}
	q.refreshGauges()
	return nil
}

// Fail records a failed replay attempt. When the retry budget is exhausted
// the entry is renamed aside with its attempt history intact and left for
// operator inspection.
func (q *Queue) Fail(entry Entry) error {
	entry.Attempts++
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("pending: encode entry: %w", err)
	}
	active := filepath.Join(q.dir, entry.ID+entryExt)
	if entry.Attempts >= q.maxAttempts {
		stalled := filepath.Join(q.dir, entry.ID+stalledExt)
		if err := os.WriteFile(stalled, data, 0o600); err != nil {
			return fmt.Errorf("pending: flag entry %s: %w", entry.ID, err)
		}
		if err := os.Remove(active); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("pending: retire entry %s: %w", entry.ID, err)
		}
		obs.LogEvent("error", "pending write stalled", map[string]any{
			"id":       entry.ID,
			"org_id":   entry.OrgID,
			"user_id":  entry.UserID,
			"attempts": entry.Attempts,
		})
		q.refreshGauges()
		return nil
	}
	if err := os.WriteFile(active, data, 0o600); err != nil {
		return fmt.Errorf("pending: update entry %s: %w", entry.ID, err)
	}
	return nil
}

// StalledIDs lists entries awaiting operator inspection.
func (q *Queue) StalledIDs() ([]string, error) {
	dirEntries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("pending: read %s: %w", q.dir, err)
	}
	var out []string
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasSuffix(de.Name(), stalledExt) {
			out = append(out, strings.TrimSuffix(de.Name(), stalledExt))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (q *Queue) refreshGauges() {
	dirEntries, err := os.ReadDir(q.dir)
	if err != nil {
		return
	}
	active, stalled := 0, 0
	for _, de := range dirEntries {
		switch {
		case strings.HasSuffix(de.Name(), entryExt):
			active++
		case strings.HasSuffix(de.Name(), stalledExt):
			stalled++
		}
	}
	obs.PendingQueueDepth.Set(float64(active))
	obs.PendingStalled.Set(float64(stalled))
}
