// Package memory provides an in-memory BlobStore for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore keeps objects in a map, keyed by path.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty memory BlobStore.
func New() *BlobStore {
	return &BlobStore{objects: map[string][]byte{}}
}

// PutObject stores a copy of data and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	s.objects[path] = buf
	s.mu.Unlock()
	return fmt.Sprintf("mem://%s", path), nil
}

// Object returns the stored bytes for a path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
