package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"accord/internal/mapping"
	"accord/internal/standards"
)

const maxExcerptLen = 240

// Draft writes a claim for std citing every given active mapping. It only
// reads its arguments, so the claim can cite nothing the store does not hold.
func Draft(std standards.Standard, active []mapping.Mapping) Claim {
	cites := make([]Citation, 0, len(active))
	for _, m := range active {
		if !m.Active || m.StandardID != std.ID {
			continue
		}
		cites = append(cites, Citation{
			MappingID:  m.ID,
			EvidenceID: m.EvidenceID,
			Confidence: m.CalibratedConfidence,
			Excerpt:    truncate(m.RationaleExcerpt, maxExcerptLen),
		})
	}
	sort.Slice(cites, func(i, j int) bool {
		if cites[i].Confidence != cites[j].Confidence {
			return cites[i].Confidence > cites[j].Confidence
		}
		return cites[i].EvidenceID < cites[j].EvidenceID
	})
	c := Claim{StandardID: std.ID, Citations: cites}
	c.Text = narrate(std, cites)
	return c
}

// Finalize keeps only the accepted citations and rewrites the text. A claim
// left without citations is flagged unsupported.
func Finalize(std standards.Standard, c Claim, accepted map[int]bool) Claim {
	out := Claim{StandardID: c.StandardID, Citations: []Citation{}}
	for i, cite := range c.Citations {
		if accepted[i] {
			out.Citations = append(out.Citations, cite)
		} else {
			out.Stripped = append(out.Stripped, cite)
		}
	}
	out.Unsupported = len(out.Citations) == 0
	out.Text = narrate(std, out.Citations)
	return out
}

func narrate(std standards.Standard, cites []Citation) string {
	if len(cites) == 0 {
		return fmt.Sprintf("%s %s: no verified evidence supports this standard (unsupported).", std.ID, std.Title)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s is addressed by %d evidence item", std.ID, std.Title, len(cites))
	if len(cites) != 1 {
		b.WriteString("s")
	}
	b.WriteString(".")
	for _, c := range cites {
		fmt.Fprintf(&b, " [%s, %.2f] %q", c.EvidenceID, c.Confidence, c.Excerpt)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
