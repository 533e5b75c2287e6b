package scoring

import (
	"math"
	"time"
)

// RiskConfig holds the tier thresholds. Rules are evaluated in order:
// no active mappings, then the high thresholds, then the medium ones.
type RiskConfig struct {
	// MappingFloor is the minimum calibrated confidence for a mapping.
	MappingFloor float64
	// HighTrustBelow puts a standard in the high tier.
	HighTrustBelow float64
	// MediumTrustBelow puts a standard in at least the medium tier.
	MediumTrustBelow float64
	MinCoverage      float64
	MinStaleness     float64
	// TTL bounds how long a computed profile is considered fresh.
	TTL time.Duration
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MappingFloor:     0.5,
		HighTrustBelow:   0.4,
		MediumTrustBelow: 0.7,
		MinCoverage:      0.5,
		MinStaleness:     0.5,
		TTL:              15 * time.Minute,
	}
}

// ComputeRisk classifies a standard from its trust score and evidence slots.
// slots is the number of evidence items the standard expects.
func ComputeRisk(trust TrustScore, slots int, computedAt time.Time, cfg RiskConfig) RiskProfile {
	p := RiskProfile{
		StandardID: trust.StandardID,
		Trust:      trust.Value,
		Drivers:    []Driver{},
		ComputedAt: computedAt,
		StaleAfter: computedAt.Add(cfg.TTL),
	}
	c := trust.Components
	if slots < 1 {
		slots = 1
	}
	p.Coverage = math.Min(1, float64(c.MappingCount)/float64(slots))

	if c.MappingCount == 0 {
		p.Tier = RiskHigh
		p.Drivers = append(p.Drivers, DriverNoActiveMappings)
		return p
	}

	var high, medium []Driver
	if c.MaxConfidence < cfg.MappingFloor {
		high = append(high, DriverConfidenceBelow)
	}
	if trust.Value < cfg.HighTrustBelow {
		high = append(high, DriverTrustCritical)
	}
	if p.Coverage < cfg.MinCoverage {
		medium = append(medium, DriverLowCoverage)
	}
	if c.StalenessFactor < cfg.MinStaleness {
		medium = append(medium, DriverStaleEvidence)
	}
	if trust.Value < cfg.MediumTrustBelow {
		medium = append(medium, DriverTrustBelowTarget)
	}

	switch {
	case len(high) > 0:
		p.Tier = RiskHigh
	case len(medium) > 0:
		p.Tier = RiskMedium
	default:
		p.Tier = RiskLow
	}
	p.Drivers = append(p.Drivers, high...)
	p.Drivers = append(p.Drivers, medium...)
	if p.Tier != RiskLow && c.VerificationRatio < 1 {
		p.Drivers = append(p.Drivers, DriverUnverifiedMapping)
	}
	return p
}
