// Package fusion merges the candidates of all generators into the final
// region set for one image.
package fusion

import "github.com/ivlev/faceblur/internal/region"

// Threshold is the area-overlap fraction above which a candidate is dropped.
const Threshold = 0.25

var merger = region.Merger{Metric: region.AreaOverlap, Threshold: Threshold}

// Fuse seeds the result with every neural candidate, then admits the
// remaining candidates in the order given unless one overlaps an accepted
// box by more than 25% of the smaller area. The result depends on input
// order; callers must pass cascade output before skin output.
func Fuse(neural, rest []region.Candidate) []region.Candidate {
	return merger.Merge(neural, rest)
}

// Regions is Fuse without provenance.
func Regions(neural, rest []region.Candidate) []region.Rect {
	return region.Rects(Fuse(neural, rest))
}
