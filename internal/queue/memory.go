package queue

import (
	"context"
	"sync"

	"github.com/dkeye/duet/internal/domain"
)

// MemoryStore is the in-process queue backend. A single mutex makes
// every operation atomic, so correctness does not depend on scheduling.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	present map[domain.ParticipantID]struct{}
	seq     uint64
	compat  Compat
}

func NewMemoryStore(compat Compat) *MemoryStore {
	if compat == nil {
		compat = Any
	}
	return &MemoryStore{
		present: make(map[domain.ParticipantID]struct{}),
		compat:  compat,
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.present[e.Participant]; ok {
		s.drop(e.Participant)
	}
	s.seq++
	e.Seq = s.seq
	s.entries = append(s.entries, e)
	s.present[e.Participant] = struct{}{}
	return nil
}

func (s *MemoryStore) DequeuePair(_ context.Context) (Entry, Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(s.entries); i++ {
		for j := i + 1; j < len(s.entries); j++ {
			if !s.compat(s.entries[i], s.entries[j]) {
				continue
			}
			a, b := s.entries[i], s.entries[j]
			// Remove j first so i's index stays valid.
			s.entries = append(s.entries[:j], s.entries[j+1:]...)
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.present, a.Participant)
			delete(s.present, b.Participant)
			return a, b, true, nil
		}
	}
	return Entry{}, Entry{}, false, nil
}

func (s *MemoryStore) Remove(_ context.Context, p domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(p)
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) drop(p domain.ParticipantID) {
	for i, e := range s.entries {
		if e.Participant == p {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	delete(s.present, p)
}
