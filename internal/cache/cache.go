package cache

import (
	"context"
	"sync"
	"time"

	"invoicepos/internal/domain"
)

type LookupCache interface {
	GetLookup(ctx context.Context, key string) (*domain.LookupResponse, bool, error)
	SetLookup(ctx context.Context, key string, value *domain.LookupResponse, ttl time.Duration) error
}

type NoopLookupCache struct{}

func (NoopLookupCache) GetLookup(_ context.Context, _ string) (*domain.LookupResponse, bool, error) {
	return nil, false, nil
}

func (NoopLookupCache) SetLookup(_ context.Context, _ string, _ *domain.LookupResponse, _ time.Duration) error {
	return nil
}

// MemorySnapshotStore keeps draft snapshots in process memory. It is the
// fallback slot when no redis is configured.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{slots: make(map[string][]byte)}
}

func (m *MemorySnapshotStore) Put(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = append([]byte(nil), payload...)
	return nil
}

func (m *MemorySnapshotStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.slots[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

func (m *MemorySnapshotStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
