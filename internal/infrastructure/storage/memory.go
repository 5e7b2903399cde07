package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/yokitheyo/batchflow/internal/domain"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStorage keeps objects in process memory. Useful for single-node runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	puts    map[string]int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		puts:    make(map[string]int),
	}
}

func (s *MemoryStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = memoryObject{data: buf, contentType: contentType}
	s.puts[path]++
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, path)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *MemoryStorage) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok
}

func (s *MemoryStorage) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[path].contentType
}

// PutCount reports how many times path was written.
func (s *MemoryStorage) PutCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts[path]
}

// Len reports the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
