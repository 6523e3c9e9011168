// Package memory provides an in-process utilization store for single-node setups and tests.
package memory

import (
	"context"
	"sync"
)

// UtilizationStore keeps accumulated utilization per udid in memory
type UtilizationStore struct {
	mu     sync.RWMutex
	values map[string]int64
}

// NewUtilizationStore creates an empty store
func NewUtilizationStore() *UtilizationStore {
	return &UtilizationStore{values: make(map[string]int64)}
}

// Get returns the stored utilization in milliseconds, 0 when unknown
func (s *UtilizationStore) Get(_ context.Context, udid string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[udid]
}

// Set stores the utilization in milliseconds
func (s *UtilizationStore) Set(_ context.Context, udid string, ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[udid] = ms
	return nil
}
