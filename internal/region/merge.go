package region

import "math"

// Metric decides whether next duplicates an already kept box at the given
// threshold.
type Metric func(next, kept Rect, threshold float64) bool

// CornerProximity treats next as a duplicate when its top-left corner lies
// within threshold*kept.Width horizontally and threshold*kept.Height
// vertically of kept's corner. It ignores box size entirely.
func CornerProximity(next, kept Rect, threshold float64) bool {
	dx := math.Abs(float64(next.X - kept.X))
	dy := math.Abs(float64(next.Y - kept.Y))
	return dx < float64(kept.Width)*threshold && dy < float64(kept.Height)*threshold
}

// AreaOverlap treats next as a duplicate when the intersection area strictly
// exceeds threshold times the smaller of the two areas.
func AreaOverlap(next, kept Rect, threshold float64) bool {
	inter := next.Intersect(kept).Area()
	if inter == 0 {
		return false
	}
	smaller := min(next.Area(), kept.Area())
	return float64(inter) > float64(smaller)*threshold
}

// OverlapRatio is the intersection area divided by the smaller area.
func OverlapRatio(a, b Rect) float64 {
	smaller := min(a.Area(), b.Area())
	if smaller == 0 {
		return 0
	}
	return float64(a.Intersect(b).Area()) / float64(smaller)
}

// Merger is an order-dependent, first-registered-wins duplicate filter.
type Merger struct {
	Metric    Metric
	Threshold float64
}

// Duplicates reports whether next duplicates any rect in kept.
func (m Merger) Duplicates(next Rect, kept []Candidate) bool {
	for _, k := range kept {
		if m.Metric(next, k.Rect, m.Threshold) {
			return true
		}
	}
	return false
}

// Merge returns seed followed by every incoming candidate that does not
// duplicate anything accepted before it. Seed entries are never tested
// against each other and are never evicted. The seed slice is not modified.
func (m Merger) Merge(seed, incoming []Candidate) []Candidate {
	out := make([]Candidate, len(seed), len(seed)+len(incoming))
	copy(out, seed)
	for _, c := range incoming {
		if m.Duplicates(c.Rect, out) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Accepted runs Merge and returns only the incoming candidates that survived.
func (m Merger) Accepted(seed, incoming []Candidate) []Candidate {
	merged := m.Merge(seed, incoming)
	return merged[len(seed):]
}
