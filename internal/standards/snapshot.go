package standards

import (
	"fmt"
	"sort"
	"time"

	dErrors "accord/pkg/domain-errors"
)

// Snapshot is an immutable, fully validated view of the corpus. Readers hold
// a *Snapshot for the duration of an operation and never see a partial build.
type Snapshot struct {
	version      uint64
	loadedAt     time.Time
	byID         map[string]Standard
	children     map[string][]string
	byAccreditor map[string][]string
	equivalences map[string][]Equivalence
	ordered      []string
}

// Version increases by one on every successful reload.
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len is the number of standards in the snapshot.
func (s *Snapshot) Len() int { return len(s.byID) }

// Lookup returns the standard with the given id.
func (s *Snapshot) Lookup(id string) (Standard, bool) {
	st, ok := s.byID[id]
	return st, ok
}

// ListByAccreditor returns the accreditor's standards ordered by id.
// An empty accreditor lists the whole corpus.
func (s *Snapshot) ListByAccreditor(accreditor string) []Standard {
	ids := s.ordered
	if accreditor != "" {
		ids = s.byAccreditor[accreditor]
	}
	out := make([]Standard, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Accreditors returns the accreditor codes present in the snapshot.
func (s *Snapshot) Accreditors() []string {
	out := make([]string, 0, len(s.byAccreditor))
	for code := range s.byAccreditor {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// EquivalenceNeighbors returns cross-accreditor equivalences of id, ordered by
// confidence desc then id.
func (s *Snapshot) EquivalenceNeighbors(id string) []Equivalence {
	eqs := s.equivalences[id]
	out := make([]Equivalence, len(eqs))
	copy(out, eqs)
	return out
}

// Children returns the direct children of id ordered by id.
func (s *Snapshot) Children(id string) []Standard {
	ids := s.children[id]
	out := make([]Standard, 0, len(ids))
	for _, cid := range ids {
		out = append(out, s.byID[cid])
	}
	return out
}

// Ancestors returns the chain from id's parent up to the root.
func (s *Snapshot) Ancestors(id string) []Standard {
	var out []Standard
	st, ok := s.byID[id]
	for ok && st.HasParent() {
		st, ok = s.byID[st.ParentID]
		if ok {
			out = append(out, st)
		}
	}
	return out
}

// FullText is the standard's text with its parent title prepended, used by
// the reranker where hierarchy context sharpens relevance.
func (s *Snapshot) FullText(id string) string {
	st, ok := s.byID[id]
	if !ok {
		return ""
	}
	if parent, ok := s.byID[st.ParentID]; ok {
		return parent.Title + ". " + st.Text()
	}
	return st.Text()
}

// buildSnapshot validates records and produces a new snapshot. Any violation
// rejects the whole corpus.
func buildSnapshot(records []CorpusRecord, version uint64, now time.Time) (*Snapshot, error) {
	if len(records) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "corpus is empty")
	}

	snap := &Snapshot{
		version:      version,
		loadedAt:     now,
		byID:         make(map[string]Standard, len(records)),
		children:     make(map[string][]string),
		byAccreditor: make(map[string][]string),
		equivalences: make(map[string][]Equivalence),
	}

	for i, rec := range records {
		st := rec.toStandard()
		if st.ID == "" {
			return nil, dErrors.Newf(dErrors.CodeValidation, "record %d: standard_id is required", i)
		}
		if st.Accreditor == "" {
			return nil, dErrors.Newf(dErrors.CodeValidation, "standard %s: accreditor is required", st.ID)
		}
		if _, dup := snap.byID[st.ID]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate standard_id %s", st.ID)
		}
		snap.byID[st.ID] = st
		snap.ordered = append(snap.ordered, st.ID)
		snap.byAccreditor[st.Accreditor] = append(snap.byAccreditor[st.Accreditor], st.ID)
	}

	for _, id := range snap.ordered {
		st := snap.byID[id]
		if !st.HasParent() {
			continue
		}
		parent, ok := snap.byID[st.ParentID]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "standard %s: unknown parent %s", id, st.ParentID)
		}
		if parent.Accreditor != st.Accreditor {
			return nil, dErrors.Newf(dErrors.CodeValidation, "standard %s: parent %s belongs to another accreditor", id, st.ParentID)
		}
		snap.children[st.ParentID] = append(snap.children[st.ParentID], id)
	}

	if err := detectCycles(snap); err != nil {
		return nil, err
	}
	if err := indexEquivalences(snap); err != nil {
		return nil, err
	}

	sort.Strings(snap.ordered)
	for k := range snap.byAccreditor {
		sort.Strings(snap.byAccreditor[k])
	}
	for k := range snap.children {
		sort.Strings(snap.children[k])
	}
	return snap, nil
}

func detectCycles(snap *Snapshot) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(snap.byID))
	for _, start := range snap.ordered {
		var path []string
		id := start
		for id != "" && state[id] != done {
			if state[id] == visiting {
				return dErrors.Newf(dErrors.CodeValidation, "parent cycle through %s", id)
			}
			state[id] = visiting
			path = append(path, id)
			id = snap.byID[id].ParentID
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

// indexEquivalences makes edges symmetric, keeping the higher confidence when
// both directions are declared.
func indexEquivalences(snap *Snapshot) error {
	edges := make(map[[2]string]float64)
	for _, id := range snap.ordered {
		for _, eq := range snap.byID[id].Equivalences {
			if _, ok := snap.byID[eq.StandardID]; !ok {
				return dErrors.Newf(dErrors.CodeValidation, "standard %s: unknown equivalence target %s", id, eq.StandardID)
			}
			if eq.StandardID == id {
				return dErrors.Newf(dErrors.CodeValidation, "standard %s: self equivalence", id)
			}
			if eq.Confidence < 0 || eq.Confidence > 1 {
				return dErrors.Newf(dErrors.CodeValidation, "standard %s: equivalence confidence %v out of range", id, eq.Confidence)
			}
			for _, key := range [][2]string{{id, eq.StandardID}, {eq.StandardID, id}} {
				if eq.Confidence > edges[key] || !hasEdge(edges, key) {
					edges[key] = eq.Confidence
				}
			}
		}
	}
	for key, conf := range edges {
		snap.equivalences[key[0]] = append(snap.equivalences[key[0]], Equivalence{StandardID: key[1], Confidence: conf})
	}
	for id := range snap.equivalences {
		eqs := snap.equivalences[id]
		sort.Slice(eqs, func(i, j int) bool {
			if eqs[i].Confidence != eqs[j].Confidence {
				return eqs[i].Confidence > eqs[j].Confidence
			}
			return eqs[i].StandardID < eqs[j].StandardID
		})
	}
	return nil
}

func hasEdge(edges map[[2]string]float64, key [2]string) bool {
	_, ok := edges[key]
	return ok
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot v%d (%d standards)", s.version, len(s.byID))
}
