package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps the audit log in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev *Entry
	if n := len(s.entries); n > 0 {
		prev = &s.entries[n-1]
	}
	sealed := seal(e, prev)
	s.entries = append(s.entries, sealed)
	return sealed, nil
}

func (s *InMemoryStore) ListByPair(_ context.Context, evidenceID, standardID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.EvidenceID == evidenceID && e.StandardID == standardID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry{}, s.entries...), nil
}
