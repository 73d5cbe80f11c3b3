package progress

import (
	"context"
	"errors"
	"sync"
)

// ErrKeyNotFound is returned by Backend.Get for an absent key.
var ErrKeyNotFound = errors.New("key not found")

// Backend is a string-keyed blob store holding progress records and their
// side keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// MemoryBackend is an in-memory Backend. Progress written to it lasts for the
// life of the process only.
type MemoryBackend struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error {
	return nil
}

// Keys returns the number of stored keys.
func (b *MemoryBackend) Keys() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
