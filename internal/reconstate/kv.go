package reconstate

import (
	"context"
	"time"

	"exfilwatch/internal/kvstore"
)

// KVBackend persists scores in the shared bbolt state database. Every CAS
// runs inside a single bolt write transaction, which is the per-actor (in
// fact whole-store) mutual exclusion across concurrent detector runs.
type KVBackend struct {
	db *kvstore.DB
	// ownsDB is set when the backend opened the database itself and should
	// close it; the engine usually shares one DB with the baseline tracker.
	ownsDB bool
}

// NewKVBackend wraps an already-open state database.
func NewKVBackend(db *kvstore.DB) *KVBackend {
	return &KVBackend{db: db}
}

func key(actor string) string {
	return kvstore.ReconScorePrefix + actor
}

// Get implements Backend.
func (b *KVBackend) Get(ctx context.Context, actor string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	var e Entry
	ok, err := b.db.Get(key(actor), &e)
	return e, ok, err
}

// PutCAS implements Backend. The read-back inside the write transaction
// makes the compare and the swap atomic.
func (b *KVBackend) PutCAS(ctx context.Context, actor string, expected Entry, expectedOK bool, next Entry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	written := false
	err := b.db.Update(func(get func(string, interface{}) (bool, error),
		put func(string, interface{}) error, _ func(string) error) error {
		var cur Entry
		ok, err := get(key(actor), &cur)
		if err != nil {
			return err
		}
		if ok != expectedOK {
			return nil
		}
		if ok && (cur.Score != expected.Score || !cur.LastUpdate.Equal(expected.LastUpdate)) {
			return nil
		}
		if err := put(key(actor), next); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// DeleteIfBelow implements Backend.
func (b *KVBackend) DeleteIfBelow(ctx context.Context, actor string, threshold float64, at time.Time, halfLife time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(get func(string, interface{}) (bool, error),
		_ func(string, interface{}) error, del func(string) error) error {
		var cur Entry
		ok, err := get(key(actor), &cur)
		if err != nil || !ok {
			return err
		}
		if Decay(cur.Score, at.Sub(cur.LastUpdate), halfLife) < threshold {
			return del(key(actor))
		}
		return nil
	})
}

// Close implements Backend. The shared database is closed by its owner.
func (b *KVBackend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
