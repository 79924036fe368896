package db

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProgressRepository keeps progress blobs in process memory.
type MemoryProgressRepository struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryProgressRepository() *MemoryProgressRepository {
	return &MemoryProgressRepository{records: make(map[string][]byte)}
}

func (r *MemoryProgressRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payload, ok := r.records[key]
	if !ok {
		return nil, fmt.Errorf("progress %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), payload...), nil
}

func (r *MemoryProgressRepository) Put(_ context.Context, key string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[key] = append([]byte(nil), payload...)
	return nil
}

func (r *MemoryProgressRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, key)
	return nil
}

func (r *MemoryProgressRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}
