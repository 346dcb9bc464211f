// Package keystore persists unwrapped identity private keys on the local
// device so a session need not re-run the authenticator or re-enter the
// recovery phrase. Failures here are never fatal to callers.
package keystore

import (
	"bytes"
	"errors"
	"sync"
)

// ErrNotFound is returned when no key is cached for a kid.
var ErrNotFound = errors.New("key not cached")

// Store caches private key material by kid.
type Store interface {
	Load(kid string) ([]byte, error)
	Save(kid string, data []byte) error
	Delete(kid string) error
	// Clear removes every cached key.
	Clear() error
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]byte)}
}

func (s *MemoryStore) Load(kid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.keys[kid]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (s *MemoryStore) Save(kid string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = bytes.Clone(data)
	return nil
}

func (s *MemoryStore) Delete(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.keys[kid]; ok {
		wipe(data)
		delete(s.keys, kid)
	}
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kid, data := range s.keys {
		wipe(data)
		delete(s.keys, kid)
	}
	return nil
}

func (s *MemoryStore) Close() error { return s.Clear() }

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
