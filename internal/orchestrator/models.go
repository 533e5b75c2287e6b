package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"accord/internal/retrieval"
	"accord/internal/scoring"
)

// State is a run's position in the pipeline.
type State string

const (
	StateMapper             State = "mapper"
	StateGapFinder          State = "gap_finder"
	StateNarrator           State = "narrator"
	StateVerifier           State = "verifier"
	StateCompleted          State = "completed"
	StatePartiallyCompleted State = "partially_completed"
	StateFailed             State = "failed"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// StandardStatus is the final category of an in-scope standard.
type StandardStatus string

const (
	StatusMappedVerified      StandardStatus = "mapped_verified"
	StatusMappedLowConfidence StandardStatus = "mapped_low_confidence"
	StatusUnmapped            StandardStatus = "unmapped"
	StatusError               StandardStatus = "error"
)

// Coverage is the gap finder's classification before verification.
type Coverage string

const (
	CoverageMapped        Coverage = "mapped"
	CoverageLowConfidence Coverage = "low_confidence"
	CoverageUnmapped      Coverage = "unmapped"
)

// DocumentStatus is the mapper's outcome for one evidence document.
type DocumentStatus string

const (
	DocumentMapped  DocumentStatus = "mapped"
	DocumentNoMatch DocumentStatus = "no_match"
	DocumentError   DocumentStatus = "error"
)

// Request asks for one analysis run.
type Request struct {
	Documents []retrieval.EvidenceDocument `json:"documents"`
	// Accreditor limits the in-scope standards. Empty falls back to the
	// documents' owner hints, then to the whole corpus.
	Accreditor string `json:"accreditor,omitempty"`
}

// DocumentResult reports what the mapper did with one document.
type DocumentResult struct {
	EvidenceID string         `json:"evidence_id"`
	Status     DocumentStatus `json:"status"`
	MappingIDs []uuid.UUID    `json:"mapping_ids"`
	Gaps       int            `json:"gaps"`
	Error      string         `json:"error,omitempty"`
}

// Citation links a claim to a mapping.
type Citation struct {
	MappingID  uuid.UUID `json:"mapping_id"`
	EvidenceID string    `json:"evidence_id"`
	Confidence float64   `json:"confidence"`
	Excerpt    string    `json:"excerpt"`
}

// Claim is the narrative drafted for one standard.
type Claim struct {
	StandardID  string     `json:"standard_id"`
	Text        string     `json:"text"`
	Citations   []Citation `json:"citations"`
	Stripped    []Citation `json:"stripped_citations,omitempty"`
	Unsupported bool       `json:"unsupported"`
}

// StandardResult is the final verdict for one in-scope standard. RiskStale
// marks a tier served from cache after its recompute failed.
type StandardResult struct {
	StandardID string           `json:"standard_id"`
	Status     StandardStatus   `json:"status"`
	Coverage   Coverage         `json:"coverage"`
	Confidence float64          `json:"max_confidence"`
	RiskTier   scoring.RiskTier `json:"risk_tier,omitempty"`
	Drivers    []scoring.Driver `json:"drivers,omitempty"`
	RiskStale  bool             `json:"risk_stale,omitempty"`
	Claim      *Claim           `json:"claim,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// RunSummary is the outcome of one run. Every in-scope standard appears in
// Standards exactly once.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	State           State            `json:"state"`
	Transitions     []State          `json:"transitions"`
	SnapshotVersion uint64           `json:"snapshot_version"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Documents       []DocumentResult `json:"documents"`
	Standards       []StandardResult `json:"standards"`
	Error           string           `json:"error,omitempty"`
}
