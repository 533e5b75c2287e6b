package audit

import (
	"time"

	"github.com/google/uuid"

	"accord/internal/mapping"
)

// Decision is the verifier's verdict on a citation.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Entry is one append-only audit record. Sequence, PrevHash and Hash are
// assigned by the store on append.
type Entry struct {
	Sequence             int64         `json:"sequence"`
	ActorStage           mapping.Stage `json:"actor_stage"`
	MappingID            uuid.UUID     `json:"mapping_id"`
	EvidenceID           string        `json:"evidence_id"`
	StandardID           string        `json:"standard_id"`
	Decision             Decision      `json:"decision"`
	ConfidenceAtDecision float64       `json:"confidence_at_decision"`
	Threshold            float64       `json:"threshold"`
	Timestamp            time.Time     `json:"timestamp"`
	PrevHash             string        `json:"prev_hash"`
	Hash                 string        `json:"hash"`
}

// Outcome is the result of verifying one citation. A rejection is a normal
// outcome, not an error.
type Outcome struct {
	Accepted   bool      `json:"accepted"`
	MappingID  uuid.UUID `json:"mapping_id"`
	Confidence float64   `json:"confidence"`
	Threshold  float64   `json:"threshold"`
	Reason     string    `json:"reason,omitempty"`
	Entry      Entry     `json:"audit_entry"`
}
