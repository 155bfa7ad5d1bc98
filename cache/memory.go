package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStorage keeps all stores in memory.
// Stored and returned byte slices are copies, callers may modify them.
type MemStorage struct {
	mutex  *sync.RWMutex
	stores map[string]map[string][]byte
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]map[string][]byte),
	}
}

func (m MemStorage) Keys(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStorage) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, ErrStoreName
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.stores[name]
	delete(m.stores, name)
	return ok, nil
}

func (m MemStorage) Match(ctx context.Context, name, key string) ([]byte, bool, error) {
	if name == "" {
		return nil, false, ErrStoreName
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.stores[name][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry...), true, nil
}

func (m MemStorage) Put(ctx context.Context, name, key string, bytes []byte) error {
	if name == "" {
		return ErrStoreName
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	store, ok := m.stores[name]
	if !ok {
		store = make(map[string][]byte)
		m.stores[name] = store
	}
	store[key] = append([]byte(nil), bytes...)
	return nil
}
