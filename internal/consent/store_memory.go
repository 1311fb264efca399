package consent

import (
	"context"
	"sync"

	"enforce/pkg/platform/sentinel"
)

// MemoryBackend keeps the record in process memory. Used by tests and by
// deployments that accept losing consent on restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	record *Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Read(_ context.Context) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.record == nil {
		return nil, sentinel.ErrNotFound
	}
	out := b.record.Clone()
	return &out, nil
}

func (b *MemoryBackend) Write(_ context.Context, record Record) error {
	stored := record.Clone()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record = &stored
	return nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record = nil
	return nil
}
