package scoring

import (
	"math"
	"sort"
	"time"

	"accord/internal/mapping"
)

// TrustConfig weights the trust blend.
type TrustConfig struct {
	CountWeight      float64
	ConfidenceWeight float64
	VerifiedWeight   float64
	// CycleLength is the accreditation cycle; evidence this old has zero freshness.
	CycleLength time.Duration
	// AsOfGranularity truncates the scoring clock so recomputes within one
	// window are bit-identical.
	AsOfGranularity time.Duration
}

func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		CountWeight:      0.3,
		ConfidenceWeight: 0.5,
		VerifiedWeight:   0.2,
		CycleLength:      365 * 24 * time.Hour,
		AsOfGranularity:  24 * time.Hour,
	}
}

// AsOf truncates now to the configured granularity.
func (c TrustConfig) AsOf(now time.Time) time.Time {
	if c.AsOfGranularity <= 0 {
		return now.UTC()
	}
	return now.UTC().Truncate(c.AsOfGranularity)
}

// ComputeTrust derives a trust score from a standard's active mappings. The
// result depends only on the mapping set and asOf, never on slice order.
func ComputeTrust(standardID string, active []mapping.Mapping, asOf time.Time, cfg TrustConfig) TrustScore {
	ms := make([]mapping.Mapping, 0, len(active))
	for _, m := range active {
		if m.Active && m.StandardID == standardID {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].EvidenceID != ms[j].EvidenceID {
			return ms[i].EvidenceID < ms[j].EvidenceID
		}
		return ms[i].Version < ms[j].Version
	})

	evidence := make(map[string]struct{}, len(ms))
	var sumConf, maxConf float64
	var verified int
	var newest time.Time
	for _, m := range ms {
		evidence[m.EvidenceID] = struct{}{}
		sumConf += m.CalibratedConfidence
		maxConf = math.Max(maxConf, m.CalibratedConfidence)
		if m.Verified {
			verified++
		}
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}

	comp := TrustComponents{MappingCount: len(evidence)}
	if len(ms) > 0 {
		comp.MeanConfidence = sumConf / float64(len(ms))
		comp.MaxConfidence = maxConf
		comp.VerificationRatio = float64(verified) / float64(len(ms))
		comp.StalenessFactor = staleness(newest, asOf, cfg.CycleLength)
	}

	countFactor := 1 - 1/(1+float64(comp.MappingCount))
	value := cfg.CountWeight*countFactor +
		cfg.ConfidenceWeight*comp.MeanConfidence*comp.StalenessFactor +
		cfg.VerifiedWeight*comp.VerificationRatio

	return TrustScore{
		StandardID: standardID,
		Value:      math.Min(1, math.Max(0, value)),
		Components: comp,
	}
}

func staleness(newest, asOf time.Time, cycle time.Duration) float64 {
	if cycle <= 0 {
		return 1
	}
	age := asOf.Sub(newest)
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-float64(age)/float64(cycle))
}
