package scoring

import "time"

// TrustScore is the derived trust value of one standard.
type TrustScore struct {
	StandardID string          `json:"standard_id"`
	Value      float64         `json:"value"`
	Components TrustComponents `json:"components"`
	ComputedAt time.Time       `json:"computed_at"`
}

// TrustComponents are the inputs the value was blended from.
type TrustComponents struct {
	MappingCount      int     `json:"mapping_count"`
	MeanConfidence    float64 `json:"mean_confidence"`
	MaxConfidence     float64 `json:"max_confidence"`
	VerificationRatio float64 `json:"verification_ratio"`
	StalenessFactor   float64 `json:"staleness_factor"`
}

// RiskTier classifies how exposed a standard is to an evidence gap.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Driver explains one reason behind a tier.
type Driver string

const (
	DriverNoActiveMappings  Driver = "no_active_mappings"
	DriverConfidenceBelow   Driver = "confidence_below_floor"
	DriverTrustCritical     Driver = "trust_critical"
	DriverLowCoverage       Driver = "low_coverage"
	DriverStaleEvidence     Driver = "stale_evidence"
	DriverTrustBelowTarget  Driver = "trust_below_target"
	DriverUnverifiedMapping Driver = "unverified_mappings"
)

// RiskProfile is the predicted gap risk of one standard.
type RiskProfile struct {
	StandardID string    `json:"standard_id"`
	Tier       RiskTier  `json:"risk_tier"`
	Drivers    []Driver  `json:"drivers"`
	Coverage   float64   `json:"coverage"`
	Trust      float64   `json:"trust"`
	ComputedAt time.Time `json:"computed_at"`
	StaleAfter time.Time `json:"stale_after"`
}

// TrustView is a trust score as served from the cache.
type TrustView struct {
	TrustScore
	CachedAt time.Time `json:"as_of_cache_timestamp"`
	Stale    bool      `json:"stale"`
}

// RiskView is a risk profile as served from the cache.
type RiskView struct {
	RiskProfile
	CachedAt time.Time `json:"as_of_cache_timestamp"`
	Stale    bool      `json:"stale"`
}
