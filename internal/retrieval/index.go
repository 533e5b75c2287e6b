package retrieval

import (
	"math"
	"sort"

	"accord/internal/standards"
)

type posting struct {
	doc int
	tf  int
}

// Index is an inverted TF-IDF index over one snapshot's standards. It is
// immutable once built.
type Index struct {
	version    uint64
	ids        []string
	accreditor []string
	norms      []float64
	postings   map[string][]posting
	idf        map[string]float64
	byScope    map[string]int
}

// BuildIndex indexes title and description of every standard in snap.
func BuildIndex(snap *standards.Snapshot) *Index {
	all := snap.ListByAccreditor("")
	idx := &Index{
		version:    snap.Version(),
		ids:        make([]string, len(all)),
		accreditor: make([]string, len(all)),
		norms:      make([]float64, len(all)),
		postings:   make(map[string][]posting),
		idf:        make(map[string]float64),
		byScope:    make(map[string]int),
	}
	docTF := make([]map[string]int, len(all))
	for i, std := range all {
		idx.ids[i] = std.ID
		idx.accreditor[i] = std.Accreditor
		idx.byScope[std.Accreditor]++
		docTF[i] = termFreq(Tokenize(std.Text()))
		for term, tf := range docTF[i] {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, tf: tf})
		}
	}
	n := float64(len(all))
	for term, plist := range idx.postings {
		idx.idf[term] = math.Log(1 + n/float64(len(plist)))
	}
	for i, tfs := range docTF {
		idx.norms[i] = vectorNorm(tfs, idx.idf)
	}
	return idx
}

// Version is the snapshot version the index was built from.
func (idx *Index) Version() uint64 { return idx.version }

// ScopeSize counts indexed standards for accreditor; empty means all.
func (idx *Index) ScopeSize(accreditor string) int {
	if accreditor == "" {
		return len(idx.ids)
	}
	return idx.byScope[accreditor]
}

// Search returns at most k candidates with positive cosine similarity,
// ordered by score desc then standard id asc.
func (idx *Index) Search(text, accreditor string, k int) []Candidate {
	if k <= 0 {
		return nil
	}
	qtf := termFreq(Tokenize(text))
	qnorm := vectorNorm(qtf, idx.idf)
	if qnorm == 0 {
		return nil
	}

	// Terms are visited in sorted order so float accumulation is reproducible.
	terms := make([]string, 0, len(qtf))
	for t := range qtf {
		if _, ok := idx.postings[t]; ok {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)

	dots := make(map[int]float64)
	for _, t := range terms {
		idf := idx.idf[t]
		qw := float64(qtf[t]) * idf
		for _, p := range idx.postings[t] {
			if accreditor != "" && idx.accreditor[p.doc] != accreditor {
				continue
			}
			dots[p.doc] += qw * float64(p.tf) * idf
		}
	}

	out := make([]Candidate, 0, len(dots))
	for doc, dot := range dots {
		if idx.norms[doc] == 0 || dot <= 0 {
			continue
		}
		out = append(out, Candidate{StandardID: idx.ids[doc], Score: dot / (qnorm * idx.norms[doc])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].StandardID < out[j].StandardID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func vectorNorm(tf map[string]int, idf map[string]float64) float64 {
	terms := make([]string, 0, len(tf))
	for t := range tf {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	var sum float64
	for _, t := range terms {
		w := float64(tf[t]) * idf[t]
		sum += w * w
	}
	return math.Sqrt(sum)
}
