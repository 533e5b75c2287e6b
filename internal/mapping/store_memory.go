package mapping

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

const pairLockStripes = 64

// InMemoryStore keeps mappings in process memory. Writes for one pair are
// serialized through a striped lock; the shared maps are guarded separately
// so unrelated pairs only contend for the final swap.
type InMemoryStore struct {
	pairLocks [pairLockStripes]sync.Mutex

	mu       sync.RWMutex
	byID     map[uuid.UUID]*Mapping
	versions map[Pair][]uuid.UUID
	active   map[Pair]uuid.UUID

	notifier *Notifier
	logger   *slog.Logger
}

// NewInMemoryStore constructs an empty store publishing to notifier (may be nil).
func NewInMemoryStore(notifier *Notifier, opts ...StoreOption) *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[uuid.UUID]*Mapping),
		versions: make(map[Pair][]uuid.UUID),
		active:   make(map[Pair]uuid.UUID),
		notifier: notifier,
		logger:   newStoreConfig(notifier, opts).logger,
	}
}

func (s *InMemoryStore) lockPair(p Pair) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.String()))
	l := &s.pairLocks[h.Sum32()%pairLockStripes]
	l.Lock()
	return l.Unlock
}

func (s *InMemoryStore) Supersede(ctx context.Context, m Mapping) (*Mapping, error) {
	return s.write(ctx, m, true)
}

func (s *InMemoryStore) Insert(ctx context.Context, m Mapping) (*Mapping, error) {
	return s.write(ctx, m, false)
}

func (s *InMemoryStore) write(ctx context.Context, m Mapping, supersede bool) (*Mapping, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	pair := m.Pair()
	unlock := s.lockPair(pair)
	defer unlock()

	now := requestcontext.Now(ctx)
	s.mu.Lock()
	prevID, hasPrev := s.active[pair]
	if hasPrev && !supersede {
		s.mu.Unlock()
		return nil, invariantViolation(ctx, s.logger, pair)
	}

	next := m
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	if _, dup := s.byID[next.ID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("mapping id %s already used: %w", next.ID, sentinel.ErrConflict)
	}
	next.Version = len(s.versions[pair]) + 1
	next.Active = true
	next.Verified = false
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	events := make([]ChangeEvent, 0, 2)
	if hasPrev {
		prev := s.byID[prevID]
		prev.Active = false
		events = append(events, eventFor(ChangeSuperseded, *prev, now))
	}
	stored := next
	s.byID[stored.ID] = &stored
	s.versions[pair] = append(s.versions[pair], stored.ID)
	s.active[pair] = stored.ID
	s.mu.Unlock()

	events = append(events, eventFor(ChangeCreated, stored, now))
	s.notifier.Publish(ctx, events...)
	return &next, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", id, sentinel.ErrNotFound)
	}
	out := *m
	return &out, nil
}

func (s *InMemoryStore) ListActiveByEvidence(_ context.Context, evidenceID string) ([]Mapping, error) {
	return s.listActive(func(p Pair) bool { return p.EvidenceID == evidenceID }), nil
}

func (s *InMemoryStore) ListActiveByStandard(_ context.Context, standardID string) ([]Mapping, error) {
	return s.listActive(func(p Pair) bool { return p.StandardID == standardID }), nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]Mapping, error) {
	return s.listActive(func(Pair) bool { return true }), nil
}

func (s *InMemoryStore) listActive(match func(Pair) bool) []Mapping {
	s.mu.RLock()
	out := make([]Mapping, 0)
	for pair, id := range s.active {
		if match(pair) {
			out = append(out, *s.byID[id])
		}
	}
	s.mu.RUnlock()
	sortMappings(out)
	return out
}

func (s *InMemoryStore) History(_ context.Context, evidenceID, standardID string) ([]Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.versions[Pair{EvidenceID: evidenceID, StandardID: standardID}]
	out := make([]Mapping, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	return out, nil
}

func (s *InMemoryStore) MarkVerified(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	s.mu.RLock()
	m, ok := s.byID[id]
	var pair Pair
	if ok {
		pair = m.Pair()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", id, sentinel.ErrNotFound)
	}

	unlock := s.lockPair(pair)
	defer unlock()

	s.mu.Lock()
	if !m.Active {
		s.mu.Unlock()
		return nil, dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
			fmt.Sprintf("mapping %s is superseded", id))
	}
	changed := !m.Verified
	m.Verified = true
	out := *m
	s.mu.Unlock()

	if changed {
		s.notifier.Publish(ctx, eventFor(ChangeVerified, out, requestcontext.Now(ctx)))
	}
	return &out, nil
}

func sortMappings(ms []Mapping) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].StandardID != ms[j].StandardID {
			return ms[i].StandardID < ms[j].StandardID
		}
		if ms[i].EvidenceID != ms[j].EvidenceID {
			return ms[i].EvidenceID < ms[j].EvidenceID
		}
		return ms[i].Version < ms[j].Version
	})
}
