package standards

import "strings"

// Standard is a single requirement in an accreditor's hierarchical corpus.
// Standards are immutable once part of a Snapshot.
type Standard struct {
	ID           string        `json:"id" yaml:"standard_id"`
	Accreditor   string        `json:"accreditor" yaml:"accreditor"`
	ParentID     string        `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Title        string        `json:"title" yaml:"title"`
	Description  string        `json:"description" yaml:"description"`
	Equivalences []Equivalence `json:"equivalences,omitempty" yaml:"equivalences,omitempty"`
}

// Equivalence is a cross-accreditor edge with its confidence.
type Equivalence struct {
	StandardID string  `json:"standard_id" yaml:"standard_id"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Text is the searchable text of a standard: title followed by description.
func (s Standard) Text() string {
	return strings.TrimSpace(s.Title + ". " + s.Description)
}

// HasParent reports whether the standard is a child in its accreditor tree.
func (s Standard) HasParent() bool { return s.ParentID != "" }

// CorpusRecord is one row supplied by the external corpus loader.
type CorpusRecord struct {
	Accreditor   string        `json:"accreditor" yaml:"accreditor"`
	StandardID   string        `json:"standard_id" yaml:"standard_id"`
	Title        string        `json:"title" yaml:"title"`
	Description  string        `json:"description" yaml:"description"`
	ParentID     string        `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Equivalences []Equivalence `json:"equivalences,omitempty" yaml:"equivalences,omitempty"`
}

func (r CorpusRecord) toStandard() Standard {
	eqs := make([]Equivalence, len(r.Equivalences))
	copy(eqs, r.Equivalences)
	return Standard{
		ID:           strings.TrimSpace(r.StandardID),
		Accreditor:   strings.TrimSpace(r.Accreditor),
		ParentID:     strings.TrimSpace(r.ParentID),
		Title:        strings.TrimSpace(r.Title),
		Description:  strings.TrimSpace(r.Description),
		Equivalences: eqs,
	}
}
