package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemDocStore is an in-process DocStore with integer version tokens, used
// by tests and single-process demo runs.
type MemDocStore struct {
	mu   sync.Mutex
	docs map[string]*memDoc
}

type memDoc struct {
	text    string
	version int64
}

// NewMemDocStore returns an empty in-memory document store.
func NewMemDocStore() *MemDocStore {
	return &MemDocStore{docs: make(map[string]*memDoc)}
}

// Fetch implements DocStore.
func (m *MemDocStore) Fetch(ctx context.Context, key string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return Document{}, fmt.Errorf("fetch %s: %w", key, ErrNotFound)
	}
	return Document{Key: key, Text: doc.text, Token: strconv.FormatInt(doc.version, 10)}, nil
}

// Write implements DocStore.
func (m *MemDocStore) Write(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[doc.Key]
	if !ok {
		return fmt.Errorf("write %s: %w", doc.Key, ErrNotFound)
	}
	if strconv.FormatInt(cur.version, 10) != doc.Token {
		return fmt.Errorf("write %s: %w", doc.Key, ErrTokenMismatch)
	}
	cur.text = doc.Text
	cur.version++
	return nil
}

// Create implements DocStore.
func (m *MemDocStore) Create(ctx context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; ok {
		return fmt.Errorf("create %s: %w", key, ErrExists)
	}
	m.docs[key] = &memDoc{text: text, version: 1}
	return nil
}
