package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Saves can be made to fail per key
// to exercise persistence-failure paths.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]memoryValue
	failures map[string]error
	saves    map[string]int
}

type memoryValue struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]memoryValue),
		failures: make(map[string]error),
		saves:    make(map[string]int),
	}
}

// FailSaves makes every Save of key return err until cleared with a nil err.
func (s *MemoryStore) FailSaves(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// SaveCount returns how many successful saves key has seen.
func (s *MemoryStore) SaveCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[key]
}

// Raw returns the stored JSON for key.
func (s *MemoryStore) Raw(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v.data, ok
}

// PutRaw stores data for key verbatim, bypassing encoding.
func (s *MemoryStore) PutRaw(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryValue{data: append([]byte(nil), data...), modTime: time.Now()}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, key string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateKey(key); err != nil {
		return false, fmt.Errorf("%w: %q", err, key)
	}
	s.mu.RLock()
	val, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(val.data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("%w: %q", err, key)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ferr, ok := s.failures[key]; ok {
		return fmt.Errorf("save %s: %w", key, ferr)
	}
	s.values[key] = memoryValue{data: data, modTime: time.Now()}
	s.saves[key]++
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.values))
	for k, v := range s.values {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, Entry{Key: k, Size: int64(len(v.data)), ModTime: v.modTime})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
