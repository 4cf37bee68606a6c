// Package store contains the in-memory key-value mapping served over TCP.
// Every access goes through a single mutex, so reads and writes on the same
// key are linearizable.
package store

import (
	"sort"
	"sync"
)

// NotFound is returned by Get for keys that were never written.
const NotFound = "NULL"

// Entry is one key/value pair copied out of the store.
type Entry struct {
	Key   string
	Value any
}

// Store is a thread-safe in-memory key-value store.
// Values are opaque decoded JSON documents and are never mutated after Put.
type Store struct {
	mu   sync.Mutex
	data map[string]any
}

// NewStore initializes and returns a new empty Store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]any),
	}
}

// Put inserts or overwrites the value for key.
func (s *Store) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get returns the current value for key, or NotFound.
func (s *Store) Get(key string) any {
	value, ok := s.Lookup(key)
	if !ok {
		return NotFound
	}
	return value
}

// Lookup is Get with an explicit presence flag.
func (s *Store) Lookup(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	return value, ok
}

// Len reports the number of keys held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Entries returns a copy of the store sorted by key.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.data))
	for k, v := range s.data {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}
