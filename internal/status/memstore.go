package status

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// MemStore is an in-process Store with strict version tokens. It backs
// tests and single-process demo runs; real deployments use the file or
// Postgres store.
type MemStore struct {
	mu     sync.Mutex
	byKey  map[string]*StoredStatus
	byID   map[string]*StoredStatus
	nextID int64
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byKey:  make(map[string]*StoredStatus),
		byID:   make(map[string]*StoredStatus),
		nextID: 1,
	}
}

func memKey(gate, revision string) string {
	return gate + "@" + revision
}

// Find implements Store.
func (m *MemStore) Find(ctx context.Context, gate, revision string) (StoredStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byKey[memKey(gate, revision)]
	if !ok {
		return StoredStatus{}, ErrNotFound
	}
	return *rec, nil
}

// List implements Store.
func (m *MemStore) List(ctx context.Context, revision string) ([]StoredStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredStatus
	for _, rec := range m.byKey {
		if rec.Revision == revision {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gate < out[j].Gate })
	return out, nil
}

// Create implements Store.
func (m *MemStore) Create(ctx context.Context, s Status) (StoredStatus, error) {
	if err := s.Validate(); err != nil {
		return StoredStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(s.Gate, s.Revision)
	if _, ok := m.byKey[key]; ok {
		return StoredStatus{}, fmt.Errorf("create %s: %w", key, ErrExists)
	}
	rec := &StoredStatus{
		Status:  s,
		ID:      strconv.FormatInt(m.nextID, 10),
		Version: 1,
	}
	m.nextID++
	m.byKey[key] = rec
	m.byID[rec.ID] = rec
	return *rec, nil
}

// Update implements Store.
func (m *MemStore) Update(ctx context.Context, id string, version int64, s Status) (StoredStatus, error) {
	if err := s.Validate(); err != nil {
		return StoredStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return StoredStatus{}, fmt.Errorf("update id %s: %w", id, ErrNotFound)
	}
	if s.Gate != rec.Gate || s.Revision != rec.Revision {
		return StoredStatus{}, fmt.Errorf("update id %s: key mismatch (%s@%s vs %s@%s)",
			id, s.Gate, s.Revision, rec.Gate, rec.Revision)
	}
	if rec.Version != version {
		return StoredStatus{}, &ConflictError{Gate: rec.Gate, Revision: rec.Revision, Version: version}
	}
	rec.Status = s
	rec.Version++
	return *rec, nil
}
