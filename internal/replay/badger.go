package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is a Cache backed by an embedded badger database. Entries carry a
// native TTL so expiry needs no application bookkeeping, and the store
// survives process restarts, which keeps a replay window closed for the full
// lifetime of the assertion that opened it. Multiple gateway instances share
// the database through a common volume.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the dedup database at dir. An empty dir opens
// an in-memory database, used by tests.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("replay: open badger at %q: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Put(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

func (b *Badger) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return errAlreadyPresent
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(key), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errAlreadyPresent):
		return false, nil
	case errors.Is(err, badger.ErrConflict):
		// A concurrent transaction wrote the key first; that write wins.
		return false, nil
	default:
		return false, fmt.Errorf("replay: put if absent: %w", err)
	}
}

func (b *Badger) Exists(ctx context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("replay: exists: %w", err)
	}
}

// Close releases the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

var errAlreadyPresent = errors.New("replay: key already present")
