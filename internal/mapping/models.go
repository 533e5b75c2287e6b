package mapping

import (
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline stage that produced or touched a mapping.
type Stage string

const (
	StageMapper   Stage = "mapper"
	StageVerifier Stage = "verifier"
	StageManual   Stage = "manual"
)

// Mapping is one versioned evidence-to-standard link.
type Mapping struct {
	ID                   uuid.UUID `json:"mapping_id"`
	EvidenceID           string    `json:"evidence_id"`
	StandardID           string    `json:"standard_id"`
	Version              int       `json:"version"`
	RawScore             float64   `json:"raw_score"`
	CalibratedConfidence float64   `json:"calibrated_confidence"`
	RationaleExcerpt     string    `json:"rationale_excerpt"`
	Verified             bool      `json:"verified"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
	ProducedByStage      Stage     `json:"produced_by_stage"`
}

// Pair identifies the (evidence, standard) slot a mapping occupies.
type Pair struct {
	EvidenceID string
	StandardID string
}

func (p Pair) String() string { return p.EvidenceID + "|" + p.StandardID }

// Pair returns the mapping's slot.
func (m Mapping) Pair() Pair {
	return Pair{EvidenceID: m.EvidenceID, StandardID: m.StandardID}
}

// ChangeKind describes a committed mutation.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeSuperseded ChangeKind = "superseded"
	ChangeVerified   ChangeKind = "verified"
)

// ChangeEvent is emitted after every committed mutation.
type ChangeEvent struct {
	Kind       ChangeKind `json:"kind"`
	MappingID  uuid.UUID  `json:"mapping_id"`
	EvidenceID string     `json:"evidence_id"`
	StandardID string     `json:"standard_id"`
	Version    int        `json:"version"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func eventFor(kind ChangeKind, m Mapping, at time.Time) ChangeEvent {
	return ChangeEvent{
		Kind:       kind,
		MappingID:  m.ID,
		EvidenceID: m.EvidenceID,
		StandardID: m.StandardID,
		Version:    m.Version,
		OccurredAt: at,
	}
}
