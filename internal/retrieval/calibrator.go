package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"accord/internal/retrieval/metrics"
	"accord/internal/standards"
)

const (
	DefaultSteepness    = 10.0
	DefaultMidpoint     = 0.35
	DefaultMappingFloor = 0.5

	// maxRationaleSpan bounds how many consecutive sentences a rationale may join.
	maxRationaleSpan = 5
)

// Calibrator maps raw relevance scores to confidences through a monotonic
// logistic curve and extracts the supporting excerpt.
type Calibrator struct {
	steepness float64
	midpoint  float64
	floor     float64
	metrics   *metrics.Metrics
}

// CalibratorOption configures a Calibrator.
type CalibratorOption func(*Calibrator)

// WithCurve sets the logistic steepness and midpoint.
func WithCurve(steepness, midpoint float64) CalibratorOption {
	return func(c *Calibrator) {
		if steepness > 0 {
			c.steepness = steepness
		}
		c.midpoint = midpoint
	}
}

// WithMappingFloor sets the minimum confidence for a mapping to be created.
func WithMappingFloor(floor float64) CalibratorOption {
	return func(c *Calibrator) { c.floor = floor }
}

// WithCalibratorMetrics sets the metrics sink.
func WithCalibratorMetrics(m *metrics.Metrics) CalibratorOption {
	return func(c *Calibrator) { c.metrics = m }
}

func NewCalibrator(opts ...CalibratorOption) *Calibrator {
	c := &Calibrator{
		steepness: DefaultSteepness,
		midpoint:  DefaultMidpoint,
		floor:     DefaultMappingFloor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Floor is the minimum calibrated confidence for a mapping.
func (c *Calibrator) Floor() float64 { return c.floor }

// Calibrate converts a raw score in [0, 1] to a confidence in [0, 1].
// NaN, infinities and out-of-range values are calibration errors.
func (c *Calibrator) Calibrate(raw float64) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, NewCalibrationError(fmt.Sprintf("raw score %v is not finite", raw), nil)
	}
	if raw < 0 || raw > 1 {
		return 0, NewCalibrationError(fmt.Sprintf("raw score %v outside [0,1]", raw), nil)
	}
	v := 1 / (1 + math.Exp(-c.steepness*(raw-c.midpoint)))
	return math.Min(1, math.Max(0, v)), nil
}

// Raw inverts Calibrate for confidences strictly inside (0, 1).
func (c *Calibrator) Raw(confidence float64) float64 {
	switch {
	case confidence <= 0:
		return 0
	case confidence >= 1:
		return 1
	}
	raw := c.midpoint + math.Log(confidence/(1-confidence))/c.steepness
	return math.Min(1, math.Max(0, raw))
}

// Rationale returns the shortest run of consecutive evidence sentences whose
// own score under scorer reaches the raw-score equivalent of the floor. The
// earliest span wins among equal lengths. Without such a span it falls back to
// the single best sentence. A nil scorer uses the lexical BlendScorer.
func (c *Calibrator) Rationale(ctx context.Context, scorer Scorer, evidenceText, standardText string) (string, error) {
	if scorer == nil {
		scorer = NewBlendScorer()
	}
	sentences := Sentences(evidenceText)
	if len(sentences) == 0 {
		return "", nil
	}
	score := func(excerpt string) (float64, error) {
		v, err := scorer.Score(ctx, excerpt, standardText)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return 0, err
			}
			return 0, NewCalibrationError("score rationale excerpt", err)
		}
		return v, nil
	}

	target := c.Raw(c.floor)
	best, bestScore := sentences[0], -1.0
	for span := 1; span <= maxRationaleSpan && span <= len(sentences); span++ {
		for start := 0; start+span <= len(sentences); start++ {
			excerpt := strings.Join(sentences[start:start+span], " ")
			v, err := score(excerpt)
			if err != nil {
				return "", err
			}
			if v >= target {
				return excerpt, nil
			}
			if span == 1 && v > bestScore {
				best, bestScore = excerpt, v
			}
		}
	}
	return best, nil
}

// CalibrateCandidates calibrates reranked results for one evidence document.
// Results below the floor are gaps and are counted, not returned. Any
// malformed raw score fails the whole document. Rationales are extracted with
// scorer, which should be the one that produced the raw scores.
func (c *Calibrator) CalibrateCandidates(ctx context.Context, scorer Scorer, snap *standards.Snapshot, evidenceText string, scored []Scored) ([]Calibrated, int, error) {
	accepted := make([]Calibrated, 0, len(scored))
	gaps := 0
	for _, s := range scored {
		conf, err := c.Calibrate(s.RawScore)
		if err != nil {
			c.metrics.IncrementCalibration("error", 1)
			return nil, 0, NewCalibrationError("calibrate "+s.StandardID, err)
		}
		if conf < c.floor {
			gaps++
			continue
		}
		rationale, err := c.Rationale(ctx, scorer, evidenceText, snap.FullText(s.StandardID))
		if err != nil {
			c.metrics.IncrementCalibration("error", 1)
			return nil, 0, err
		}
		accepted = append(accepted, Calibrated{
			StandardID: s.StandardID,
			RawScore:   s.RawScore,
			Confidence: conf,
			Rationale:  rationale,
		})
	}
	c.metrics.IncrementCalibration("accepted", len(accepted))
	c.metrics.IncrementCalibration("gap", gaps)
	return accepted, gaps, nil
}
