package region

// Provenance tags which generator produced a candidate.
type Provenance string

const (
	Neural  Provenance = "neural"
	Cascade Provenance = "cascade"
	Skin    Provenance = "skin"
)

// Candidate is a provisional face box from one generator.
type Candidate struct {
	Rect       Rect
	Source     Provenance
	Confidence float64 // only meaningful when Scored is true
	Scored     bool
}

// NewScored builds a candidate that carries a detector confidence.
func NewScored(r Rect, src Provenance, confidence float64) Candidate {
	return Candidate{Rect: r, Source: src, Confidence: confidence, Scored: true}
}

// New builds a candidate without a confidence score.
func New(r Rect, src Provenance) Candidate {
	return Candidate{Rect: r, Source: src}
}

// Rects strips provenance and returns the boxes in order.
func Rects(cs []Candidate) []Rect {
	out := make([]Rect, len(cs))
	for i, c := range cs {
		out[i] = c.Rect
	}
	return out
}

// Count returns how many candidates in cs came from src.
func Count(cs []Candidate, src Provenance) int {
	n := 0
	for _, c := range cs {
		if c.Source == src {
			n++
		}
	}
	return n
}
