package store

import "sync"

// Store is the server's in-memory key-value mapping.
// Every access goes through a single RWMutex, so one writer at a time.
type Store struct {
	mu    sync.RWMutex
	items map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		items: make(map[string]string),
	}
}

// Put inserts or overwrites the value for key.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Get returns the value for key and whether it was present.
// A present key with an empty value reports found=true.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	value, found := s.items[key]
	s.mu.RUnlock()

	return value, found
}

// Delete removes key and reports whether it was present.
// Deleting a missing key is a no-op.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.items[key]; !found {
		return false
	}
	delete(s.items, key)
	return true
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}
