package retrieval

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"accord/internal/retrieval/metrics"
	"accord/internal/standards"
)

// Reranker applies a Scorer to a retriever shortlist.
type Reranker struct {
	scorer  Scorer
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// RerankerOption configures a Reranker.
type RerankerOption func(*Reranker)

// WithRateLimit caps scorer calls per second. A non-positive rate disables the cap.
func WithRateLimit(perSecond float64, burst int) RerankerOption {
	return func(r *Reranker) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRerankerMetrics sets the metrics sink.
func WithRerankerMetrics(m *metrics.Metrics) RerankerOption {
	return func(r *Reranker) { r.metrics = m }
}

// NewReranker wraps scorer; a nil scorer falls back to the lexical BlendScorer.
func NewReranker(scorer Scorer, opts ...RerankerOption) *Reranker {
	if scorer == nil {
		scorer = NewBlendScorer()
	}
	r := &Reranker{scorer: scorer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scorer is the scorer applied to candidates.
func (r *Reranker) Scorer() Scorer { return r.scorer }

// Rerank scores every candidate against its full standard text and returns
// them ordered by raw score desc then standard id asc. Scorer failures are
// calibration errors for the current document; context cancellation is
// returned as is.
func (r *Reranker) Rerank(ctx context.Context, snap *standards.Snapshot, evidenceText string, candidates []Candidate) ([]Scored, error) {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, NewCalibrationError("scorer rate limit", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		raw, err := r.scorer.Score(ctx, evidenceText, snap.FullText(c.StandardID))
		r.metrics.ObserveScorer(time.Since(start))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, NewCalibrationError("scorer failed for "+c.StandardID, err)
		}
		out = append(out, Scored{StandardID: c.StandardID, RetrievalScore: c.Score, RawScore: raw})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RawScore != out[j].RawScore {
			return out[i].RawScore > out[j].RawScore
		}
		return out[i].StandardID < out[j].StandardID
	})
	return out, nil
}
