package retrieval

import "time"

// EvidenceDocument is supplied by the ingestion collaborator and treated as
// read-only input.
type EvidenceDocument struct {
	ID            string       `json:"evidence_id"`
	ExtractedText string       `json:"extracted_text"`
	OwnerContext  OwnerContext `json:"owner_context"`
	UploadedAt    time.Time    `json:"uploaded_at"`
}

// OwnerContext hints which institution and accreditor the evidence is for.
type OwnerContext struct {
	Institution string `json:"institution,omitempty"`
	Accreditor  string `json:"accreditor,omitempty"`
}

// Candidate is a retriever hit with its lexical similarity.
type Candidate struct {
	StandardID string  `json:"standard_id"`
	Score      float64 `json:"score"`
}

// Scored is a reranked candidate.
type Scored struct {
	StandardID     string  `json:"standard_id"`
	RetrievalScore float64 `json:"retrieval_score"`
	RawScore       float64 `json:"raw_score"`
}

// Calibrated is a candidate whose confidence cleared the mapping floor.
type Calibrated struct {
	StandardID string  `json:"standard_id"`
	RawScore   float64 `json:"raw_score"`
	Confidence float64 `json:"calibrated_confidence"`
	Rationale  string  `json:"rationale_excerpt"`
}
