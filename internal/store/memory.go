package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/protocol-education/school-intel/internal/model"
)

// MemoryStore is an in-process Store. Nothing survives the process; it backs
// tests and the "memory" driver.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.CacheEntry
	hits    int64
	misses  int64
	budget  *model.BudgetState
	runs    []model.RunRecord
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]model.CacheEntry)}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetEntry(_ context.Context, key string) (*model.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return &e, nil
}

func (m *MemoryStore) PutEntry(_ context.Context, e model.CacheEntry) error {
	e.Payload = append([]byte(nil), e.Payload...)
	m.mu.Lock()
	m.entries[e.Key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteEntry(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CountEntries(_ context.Context, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !e.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteAllEntries(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]model.CacheEntry)
	return n, nil
}

func (m *MemoryStore) DeleteExpiredEntries(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LoadCounters(context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits, m.misses, nil
}

func (m *MemoryStore) AddCounters(_ context.Context, hits, misses int64) error {
	m.mu.Lock()
	m.hits += hits
	m.misses += misses
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ResetCounters(context.Context) error {
	m.mu.Lock()
	m.hits, m.misses = 0, 0
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadBudget(context.Context) (*model.BudgetState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.budget == nil {
		return nil, nil
	}
	st := *m.budget
	return &st, nil
}

func (m *MemoryStore) SaveBudget(_ context.Context, st model.BudgetState) error {
	m.mu.Lock()
	m.budget = &st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) RecordRun(_ context.Context, r model.RunRecord) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	m.mu.RLock()
	out := append([]model.RunRecord(nil), m.runs...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
