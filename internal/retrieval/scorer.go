package retrieval

import (
	"context"
	"math"
	"sort"
)

// Scorer estimates how relevant evidence text is to a standard's text. The
// result must lie in [0, 1]; anything else is rejected by the calibrator.
type Scorer interface {
	Score(ctx context.Context, evidenceText, standardText string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, evidenceText, standardText string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, evidenceText, standardText string) (float64, error) {
	return f(ctx, evidenceText, standardText)
}

// BlendScorer is a deterministic lexical scorer. It blends term coverage,
// bigram overlap and the best single-sentence cosine against the standard.
type BlendScorer struct {
	CoverageWeight float64
	BigramWeight   float64
	WindowWeight   float64
}

// NewBlendScorer returns a BlendScorer with default weights.
func NewBlendScorer() *BlendScorer {
	return &BlendScorer{CoverageWeight: 0.4, BigramWeight: 0.2, WindowWeight: 0.4}
}

func (b *BlendScorer) Score(_ context.Context, evidenceText, standardText string) (float64, error) {
	return b.score(evidenceText, standardText), nil
}

func (b *BlendScorer) score(evidenceText, standardText string) float64 {
	stdTokens := Tokenize(standardText)
	if len(stdTokens) == 0 {
		return 0
	}
	evTokens := Tokenize(evidenceText)
	if len(evTokens) == 0 {
		return 0
	}

	coverage := overlapRatio(set(evTokens), set(stdTokens))
	bigram := overlapRatio(set(bigrams(evTokens)), set(bigrams(stdTokens)))

	stdTF := termFreq(stdTokens)
	var window float64
	for _, sentence := range Sentences(evidenceText) {
		if c := cosine(termFreq(Tokenize(sentence)), stdTF); c > window {
			window = c
		}
	}

	total := b.CoverageWeight + b.BigramWeight + b.WindowWeight
	if total <= 0 {
		return 0
	}
	v := (b.CoverageWeight*coverage + b.BigramWeight*bigram + b.WindowWeight*window) / total
	return math.Min(1, math.Max(0, v))
}

func set(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

func bigrams(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// overlapRatio is the share of reference items present in probe.
func overlapRatio(probe, reference map[string]struct{}) float64 {
	if len(reference) == 0 {
		return 0
	}
	hits := 0
	for k := range reference {
		if _, ok := probe[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(reference))
}

func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var dot, na float64
	for _, k := range keys {
		av := float64(a[k])
		na += av * av
		dot += av * float64(b[k])
	}
	bkeys := make([]string, 0, len(b))
	for k := range b {
		bkeys = append(bkeys, k)
	}
	sort.Strings(bkeys)
	var nb float64
	for _, k := range bkeys {
		bv := float64(b[k])
		nb += bv * bv
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
