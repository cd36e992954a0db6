// Package memory is the in-process paxos.Store used by tests and by the
// in-memory paxoskvtest harness, grounded on the teacher's in-memory SQL
// adapter (pkg/database/sql/adapters/memory/memory.go) — "the recommended
// adapter for testing" — but implemented as a plain guarded map instead of
// an in-memory SQLite handle, since the Acceptor's durability boundary
// needs no relational query surface.
package memory

import (
	"context"
	"sync"

	"github.com/paxoskv/paxoskv/internal/paxos"
)

// Store is a non-durable paxos.Store: every Save is immediately visible to
// subsequent Loads in the same process, with no persistence across restart.
type Store struct {
	mu      sync.RWMutex
	records map[paxos.Slot]paxos.SlotRecord
}

func New() *Store {
	return &Store{records: make(map[paxos.Slot]paxos.SlotRecord)}
}

func (s *Store) Load(_ context.Context, slot paxos.Slot) (paxos.SlotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[slot]; ok {
		return rec, nil
	}
	return paxos.SlotRecord{Slot: slot}, nil
}

func (s *Store) Save(_ context.Context, rec paxos.SlotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Slot] = rec
	return nil
}

func (s *Store) LoadRange(_ context.Context, from, to paxos.Slot) ([]paxos.SlotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]paxos.SlotRecord, 0, to-from)
	for slot := from; slot < to; slot++ {
		if rec, ok := s.records[slot]; ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *Store) HighestSlot(_ context.Context) (paxos.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := paxos.Slot(-1)
	for slot := range s.records {
		if slot > highest {
			highest = slot
		}
	}
	return highest, nil
}
