package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/limen/internal/limen/store"
)

// DecisionEventStore is an in-memory append-only audit log.
type DecisionEventStore struct {
	mu     sync.Mutex
	events []store.DecisionEventRecord

	// FailWith, when set, is returned by RecordEvent.  Lets tests exercise
	// best-effort audit handling.
	FailWith error
}

func NewDecisionEventStore() *DecisionEventStore {
	return &DecisionEventStore{}
}

func (s *DecisionEventStore) RecordEvent(_ context.Context, rec store.DecisionEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.events = append(s.events, rec)
	return nil
}

func (s *DecisionEventStore) ListEvents(_ context.Context, requestID string) ([]store.DecisionEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.DecisionEventRecord, 0)
	for _, ev := range s.events {
		if ev.RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Events returns a copy of all recorded events.  Test-only helper.
func (s *DecisionEventStore) Events() []store.DecisionEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.DecisionEventRecord, len(s.events))
	copy(out, s.events)
	return out
}
