// Package memory keeps admitted items in-process for development runs
// without a database.
package memory

import (
	"context"
	"sync"

	"github.com/sharkted/collector/internal/collect"
)

type itemKey struct {
	source     string
	externalID string
}

// ItemStore implements collect.ItemRepository on a map. Upsert is keyed by
// (source, external id), matching the relational store's conflict target.
type ItemStore struct {
	mu    sync.RWMutex
	items map[itemKey]collect.Item
}

// NewItemStore constructs an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[itemKey]collect.Item)}
}

// Upsert inserts or replaces the item.
func (s *ItemStore) Upsert(_ context.Context, item collect.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemKey{item.Source, item.ExternalID}] = item
	return nil
}

// Get returns the stored item, if any.
func (s *ItemStore) Get(source, externalID string) (collect.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemKey{source, externalID}]
	return item, ok
}

// Len reports how many items are stored.
func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
