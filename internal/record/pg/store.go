// Package pg is the production record backend. Every operation runs inside a
// transaction that first sets a transaction-local tenant marker; the schema's
// row-level-security policy makes rows visible and writable only when the
// marker matches the row's org. A filtering bug in application code therefore
// still cannot leak cross-tenant data: the engine rejects mismatched rows.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"inkgate.org/internal/record"
)

// maintenanceMarker is the reserved tenant marker the RLS read policy admits
// for retention purges. Only PurgeOlderThan sets it; it is never derived from
// request input, and the policy's WITH CHECK clause still forbids writes
// under it.
const maintenanceMarker = "*"

// Store implements record.Store and record.Purger over PostgreSQL.
type Store struct {
	db  *sql.DB
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

// Open connects to dsn with pool settings tuned for request-per-call traffic.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an existing handle; tests inject sqlmock through it.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness pings.
func (s *Store) DB() *sql.DB { return s.db }

// setTenant binds the transaction to one org. set_config with is_local=true
// scopes the marker to the transaction, so pooled connections cannot bleed a
// tenant into the next request.
func setTenant(ctx context.Context, tx *sql.Tx, orgID string) error {
	_, err := tx.ExecContext(ctx, `select set_config('inkgate.tenant_org', $1, true)`, orgID)
	return err
}

func (s *Store) Upsert(ctx context.Context, orgID, userID, contentHash string, payload json.RawMessage) (record.Record, error) {
	if err := record.ValidateKey(orgID, userID, contentHash); err != nil {
		return record.Record{}, err
	}
	updatedAt := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTenant(ctx, tx, orgID); err != nil {
		return record.Record{}, unavailable(err)
	}
	// Atomic insert-or-update on the primary key; never read-then-write.
	if _, err := tx.ExecContext(ctx, `
		insert into records(org_id, user_id, content_hash, payload, updated_at)
		values ($1,$2,$3,$4,$5)
		on conflict (org_id, user_id, content_hash) do update
		set payload = excluded.payload, updated_at = excluded.updated_at
	`, orgID, userID, contentHash, []byte(payload), updatedAt); err != nil {
		return record.Record{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return record.Record{}, unavailable(err)
	}

	return record.Record{
		OrgID:       orgID,
		UserID:      userID,
		ContentHash: contentHash,
		Payload:     payload,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *Store) Get(ctx context.Context, orgID, userID, contentHash string) (record.Record, error) {
	if err := record.ValidateKey(orgID, userID, contentHash); err != nil {
		return record.Record{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTenant(ctx, tx, orgID); err != nil {
		return record.Record{}, unavailable(err)
	}
	var payload []byte
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx, `
		select payload, updated_at from records
		where org_id=$1 and user_id=$2 and content_hash=$3
	`, orgID, userID, contentHash).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	if err != nil {
		return record.Record{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return record.Record{}, unavailable(err)
	}
	return record.Record{
		OrgID:       orgID,
		UserID:      userID,
		ContentHash: contentHash,
		Payload:     payload,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *Store) ListByTenant(ctx context.Context, orgID, userID string) ([]record.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTenant(ctx, tx, orgID); err != nil {
		return nil, unavailable(err)
	}
	rows, err := tx.QueryContext(ctx, `
		select content_hash, payload, updated_at from records
		where org_id=$1 and user_id=$2
		order by updated_at desc
	`, orgID, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		rec := record.Record{OrgID: orgID, UserID: userID}
		var payload []byte
		if err := rows.Scan(&rec.ContentHash, &payload, &rec.UpdatedAt); err != nil {
			return nil, unavailable(err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) DeleteByTenant(ctx context.Context, orgID, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTenant(ctx, tx, orgID); err != nil {
		return 0, unavailable(err)
	}
	res, err := tx.ExecContext(ctx, `
		delete from records where org_id=$1 and user_id=$2
	`, orgID, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return int(affected), nil
}

// PurgeOlderThan deletes records last updated before cutoff across all
// tenants, under the reserved maintenance marker.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setTenant(ctx, tx, maintenanceMarker); err != nil {
		return 0, unavailable(err)
	}
	res, err := tx.ExecContext(ctx, `
		delete from records where updated_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return int(affected), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", record.ErrStorageUnavailable, err)
}
