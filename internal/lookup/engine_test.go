package lookup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoicepos/internal/domain"
)

type memoryLookupCache struct {
	mu      sync.Mutex
	entries map[string]domain.LookupResponse
	sets    int
}

func (m *memoryLookupCache) GetLookup(_ context.Context, key string) (*domain.LookupResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &resp, true, nil
}

func (m *memoryLookupCache) SetLookup(_ context.Context, key string, value *domain.LookupResponse, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]domain.LookupResponse)
	}
	m.entries[key] = *value
	m.sets++
	return nil
}

func catalog() []domain.Product {
	price := decimal.NewFromInt(1000)
	return []domain.Product{
		{ID: 1, Code: "CAB-01", Name: "Cable HDMI", UnitPrice: price, Active: true},
		{ID: 2, Code: "CAB", Name: "Cable USB", UnitPrice: price, Active: true},
		{ID: 3, Code: "ADP-02", Name: "Adapter cable", UnitPrice: price, Active: true},
		{ID: 4, Code: "CAB-99", Name: "Cable retired", UnitPrice: price, Active: false},
		{ID: 5, Code: "KBD-01", Name: "Keyboard", UnitPrice: price, Active: true},
	}
}

func TestSearchRanksByMatchKind(t *testing.T) {
	engine := NewEngine(nil, time.Minute)
	resp := engine.Search(context.Background(), "main-store", "cab", catalog(), map[int64]int{1: 4, 2: 0}, 10)

	if len(resp.Matches) != 3 {
		t.Fatalf("expected 3 matches, got %+v", resp.Matches)
	}
	want := []int64{2, 1, 3}
	for i, id := range want {
		if resp.Matches[i].ProductID != id {
			t.Fatalf("expected product %d at %d, got %d", id, i, resp.Matches[i].ProductID)
		}
	}
	if resp.Matches[0].Score != scoreExactCode {
		t.Fatalf("expected exact code score, got %v", resp.Matches[0].Score)
	}
	if resp.Matches[2].MatchedOn != "name" || resp.Matches[2].Score != scoreNameContain {
		t.Fatalf("expected name containment for adapter, got %+v", resp.Matches[2])
	}
	if resp.Matches[1].AvailableStock != 4 {
		t.Fatalf("expected stock 4 for product 1, got %d", resp.Matches[1].AvailableStock)
	}
}

func TestSearchSkipsInactiveAndEmptyQuery(t *testing.T) {
	engine := NewEngine(nil, 0)
	resp := engine.Search(context.Background(), "main-store", "CAB-99", catalog(), nil, 10)
	if len(resp.Matches) != 0 {
		t.Fatalf("expected inactive product to be skipped, got %+v", resp.Matches)
	}

	resp = engine.Search(context.Background(), "main-store", "   ", catalog(), nil, 10)
	if len(resp.Matches) != 0 || resp.Query != "" {
		t.Fatalf("expected empty response for blank query, got %+v", resp)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	engine := NewEngine(nil, 0)
	resp := engine.Search(context.Background(), "main-store", "a", catalog(), nil, 2)
	if len(resp.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(resp.Matches))
	}
}

func TestSearchServesFromCache(t *testing.T) {
	store := &memoryLookupCache{}
	engine := NewEngine(store, time.Minute)

	first := engine.Search(context.Background(), "main-store", "key", catalog(), nil, 5)
	if first.Cached {
		t.Fatal("expected first lookup to miss the cache")
	}
	second := engine.Search(context.Background(), "main-store", "KEY", nil, nil, 5)
	if !second.Cached {
		t.Fatal("expected second lookup to hit the cache")
	}
	if len(second.Matches) != 1 || second.Matches[0].ProductID != 5 {
		t.Fatalf("expected cached keyboard match, got %+v", second.Matches)
	}
	if store.sets != 1 {
		t.Fatalf("expected one cache write, got %d", store.sets)
	}

	other := engine.Search(context.Background(), "branch-2", "key", catalog(), nil, 5)
	if other.Cached {
		t.Fatal("expected store id to be part of the cache key")
	}
}
