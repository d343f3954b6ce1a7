package baseline

import (
	"context"
	"sync"

	"exfilwatch/internal/kvstore"
)

// MemoryBackend keeps baselines in process memory. Shared across workers, so
// every access holds the map lock.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, actor string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[actor]
	return rec, ok, nil
}

// Mutate implements Backend.
func (b *MemoryBackend) Mutate(_ context.Context, actor string, fn func(Record, bool) Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.records[actor]
	b.records[actor] = fn(cur, ok)
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	return nil
}

// KVBackend persists baselines in the shared bbolt state database under
// baseline:<actor> keys.
type KVBackend struct {
	db *kvstore.DB
}

// NewKVBackend wraps an already-open state database.
func NewKVBackend(db *kvstore.DB) *KVBackend {
	return &KVBackend{db: db}
}

func baselineKey(actor string) string {
	return kvstore.BaselinePrefix + actor
}

// Get implements Backend.
func (b *KVBackend) Get(ctx context.Context, actor string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	var rec Record
	ok, err := b.db.Get(baselineKey(actor), &rec)
	return rec, ok, err
}

// Mutate implements Backend. The bolt write transaction serializes
// read-modify-write cycles across concurrent runs.
func (b *KVBackend) Mutate(ctx context.Context, actor string, fn func(Record, bool) Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(get func(string, interface{}) (bool, error),
		put func(string, interface{}) error, _ func(string) error) error {
		var cur Record
		ok, err := get(baselineKey(actor), &cur)
		if err != nil {
			return err
		}
		return put(baselineKey(actor), fn(cur, ok))
	})
}

// Close implements Backend. The shared database is closed by its owner.
func (b *KVBackend) Close() error {
	return nil
}
