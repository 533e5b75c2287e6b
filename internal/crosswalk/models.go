package crosswalk

// Origin says where a match came from.
type Origin string

const (
	OriginEquivalence Origin = "equivalence"
	OriginScored      Origin = "scored"
)

// Match pairs one source standard with one target standard.
type Match struct {
	SourceID   string  `json:"source_standard_id"`
	TargetID   string  `json:"target_standard_id"`
	Confidence float64 `json:"confidence"`
	Origin     Origin  `json:"origin"`
}

// Result is a closed-world crosswalk: every source and every target
// standard appears exactly once, either in a match or in its unmatched list.
type Result struct {
	SourceAccreditor string   `json:"source_accreditor"`
	TargetAccreditor string   `json:"target_accreditor"`
	SnapshotVersion  uint64   `json:"snapshot_version"`
	Threshold        float64  `json:"threshold"`
	Matched          []Match  `json:"matched"`
	UnmatchedSource  []string `json:"unmatched_source"`
	UnmatchedTarget  []string `json:"unmatched_target"`
}
