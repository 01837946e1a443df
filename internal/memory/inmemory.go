package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryTurnStore is a simple in-process turn store for local/dev use.
type InMemoryTurnStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryTurnStore() *InMemoryTurnStore {
	return &InMemoryTurnStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryTurnStore) Query(_ context.Context, partition string, limit int, mostRecentFirst bool) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.turns[partition]
	sorted := make([]Turn, len(arr))
	copy(sorted, arr)
	sort.Slice(sorted, func(i, j int) bool {
		if mostRecentFirst {
			return sorted[i].Timestamp > sorted[j].Timestamp
		}
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (s *InMemoryTurnStore) Put(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.Partition] = append(s.turns[turn.Partition], turn)
	return nil
}

func (s *InMemoryTurnStore) DeleteBatch(_ context.Context, partition string, timestamps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[int64]struct{}, len(timestamps))
	for _, ts := range timestamps {
		doomed[ts] = struct{}{}
	}

	kept := s.turns[partition][:0]
	for _, t := range s.turns[partition] {
		if _, gone := doomed[t.Timestamp]; !gone {
			kept = append(kept, t)
		}
	}
	s.turns[partition] = kept
	return nil
}

func (s *InMemoryTurnStore) Close() error { return nil }
