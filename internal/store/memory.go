package store

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"wsk-go/internal/ops"
)

// MemoryStore is an in-memory implementation of the Store interface, useful
// for testing. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string][]byte // "kind/name" -> data
}

var _ ops.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string][]byte)}
}

func storeKey(kind, name string) string { return kind + "/" + name }

func (s *MemoryStore) Put(kind, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[storeKey(kind, name)] = data
	return nil
}

func (s *MemoryStore) Get(kind, name string, w io.Writer) error {
	s.mu.RLock()
	data, ok := s.artifacts[storeKey(kind, name)]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("artifact not found: %s/%s", kind, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

func (s *MemoryStore) List(kind string) ([]string, error) {
	prefix := kind + "/"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for k := range s.artifacts {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			names = append(names, k[len(prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Latest(kind string) (string, error) {
	names, err := s.List(kind)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[len(names)-1], nil
}
