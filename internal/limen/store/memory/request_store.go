// Package memory holds in-process stores for tests and LIMEN_STORE=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

type RequestStore struct {
	mu   sync.RWMutex
	data map[string]types.AccessRequest
}

func NewRequestStore() *RequestStore {
	return &RequestStore{
		data: make(map[string]types.AccessRequest),
	}
}

func (s *RequestStore) Create(_ context.Context, req types.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[req.ID]; exists {
		return store.ErrConflict
	}
	s.data[req.ID] = req.Clone()
	return nil
}

func (s *RequestStore) Get(_ context.Context, id string) (types.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.data[id]
	if !ok {
		return types.AccessRequest{}, store.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *RequestStore) Update(_ context.Context, req types.AccessRequest, from types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[req.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status.Normalized() != from.Normalized() {
		return store.ErrConflict
	}
	s.data[req.ID] = req.Clone()
	return nil
}

func (s *RequestStore) List(_ context.Context, f store.RequestFilter) ([]types.AccessRequest, error) {
	s.mu.RLock()
	out := make([]types.AccessRequest, 0, len(s.data))
	for _, req := range s.data {
		if f.Matches(req) {
			out = append(out, req.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := requestedMs(out[i]), requestedMs(out[j])
		if a != b {
			return a > b
		}
		return out[i].ID < out[j].ID
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *RequestStore) PruneOlderThan(_ context.Context, statuses []types.Status, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := store.RequestFilter{Statuses: statuses}
	var deleted int64
	for id, req := range s.data {
		if req.RequestedAt == nil || !req.RequestedAt.Before(cutoff) {
			continue
		}
		if len(statuses) > 0 && !match.Matches(req) {
			continue
		}
		delete(s.data, id)
		deleted++
	}
	return deleted, nil
}

// Len reports how many requests are stored.  Test-only helper.
func (s *RequestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func requestedMs(r types.AccessRequest) int64 {
	if r.RequestedAt == nil {
		return 0
	}
	return r.RequestedAt.UnixMilli()
}
