package reconstate

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is the per-process, ephemeral backend. A mutex per actor
// serializes read-modify-write cycles within the process; state does not
// survive a restart.
type MemoryBackend struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	mu    sync.Mutex
	entry Entry
	ok    bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string]*memorySlot)}
}

func (b *MemoryBackend) slot(actor string) *memorySlot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[actor]
	if !ok {
		s = &memorySlot{}
		b.slots[actor] = s
	}
	return s
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, actor string) (Entry, bool, error) {
	s := b.slot(actor)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, s.ok, nil
}

// PutCAS implements Backend.
func (b *MemoryBackend) PutCAS(_ context.Context, actor string, expected Entry, expectedOK bool, next Entry) (bool, error) {
	s := b.slot(actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ok != expectedOK {
		return false, nil
	}
	if s.ok && (s.entry.Score != expected.Score || !s.entry.LastUpdate.Equal(expected.LastUpdate)) {
		return false, nil
	}

	s.entry = next
	s.ok = true
	return true, nil
}

// DeleteIfBelow implements Backend.
func (b *MemoryBackend) DeleteIfBelow(_ context.Context, actor string, threshold float64, at time.Time, halfLife time.Duration) error {
	s := b.slot(actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ok {
		return nil
	}
	if Decay(s.entry.Score, at.Sub(s.entry.LastUpdate), halfLife) < threshold {
		s.entry = Entry{}
		s.ok = false
	}
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	return nil
}
