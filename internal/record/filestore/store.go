// Package filestore persists one record per file. It suits single-instance or
// development deployments: last writer wins and there is no cross-process
// transactional isolation.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"inkgate.org/internal/record"
)

const recordExt = ".json"

// Store keeps records under dir, one file per (org, user, hash) triple. The
// filename is a digest of the triple so hostile key parts can never traverse
// outside dir.
type Store struct {
	dir string
	now func() time.Time
}

var _ record.Store = (*Store)(nil)
var _ record.Purger = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates dir if needed and returns a Store over it.
func New(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("filestore: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func keyFile(orgID, userID, contentHash string) string {
	sum := sha256.Sum256([]byte(orgID + "|" + userID + "|" + contentHash))
	return hex.EncodeToString(sum[:]) + recordExt
}

func (s *Store) Upsert(ctx context.Context, orgID, userID, contentHash string, payload json.RawMessage) (record.Record, error) {
	if err := record.ValidateKey(orgID, userID, contentHash); err != nil {
		return record.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	rec := record.Record{
		OrgID:       orgID,
		UserID:      userID,
		ContentHash: contentHash,
		Payload:     payload,
		UpdatedAt:   s.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return record.Record{}, fmt.Errorf("filestore: encode record: %w", err)
	}
	// Write-then-rename keeps readers from observing a half-written record.
	target := filepath.Join(s.dir, keyFile(orgID, userID, contentHash))
	tmp, err := os.CreateTemp(s.dir, "tmp-*")
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, orgID, userID, contentHash string) (record.Record, error) {
	if err := record.ValidateKey(orgID, userID, contentHash); err != nil {
		return record.Record{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, keyFile(orgID, userID, contentHash)))
	if errors.Is(err, fs.ErrNotExist) {
		return record.Record{}, record.ErrNotFound
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.Record{}, fmt.Errorf("filestore: decode record: %w", err)
	}
	return rec, nil
}

func (s *Store) ListByTenant(ctx context.Context, orgID, userID string) ([]record.Record, error) {
	var out []record.Record
	err := s.scan(ctx, func(path string, rec record.Record) error {
		if rec.OrgID == orgID && rec.UserID == userID {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) DeleteByTenant(ctx context.Context, orgID, userID string) (int, error) {
	deleted := 0
	err := s.scan(ctx, func(path string, rec record.Record) error {
		if rec.OrgID != orgID || rec.UserID != userID {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
		}
		deleted++
		return nil
	})
	return deleted, err
}

// PurgeOlderThan removes records last updated before cutoff, across all
// tenants. A failure on one file is reported but does not stop the scan.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	purged := 0
	var firstErr error
	err := s.scan(ctx, func(path string, rec record.Record) error {
		if !rec.UpdatedAt.Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		purged++
		return nil
	})
	if err != nil {
		return purged, err
	}
	return purged, firstErr
}

func (s *Store) scan(ctx context.Context, visit func(path string, rec record.Record) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
		}
		var rec record.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			// A corrupt file is skipped, not fatal: one bad record must not
			// make the whole tenant unreadable.
			continue
		}
		if err := visit(path, rec); err != nil {
			return err
		}
	}
	return nil
}
