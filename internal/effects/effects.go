package effects

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"

	"github.com/ivlev/faceblur/internal/region"
)

// Effect obscures one region of an image in place.
type Effect interface {
	// Apply reports false when the region clamps to nothing.
	Apply(dst draw.Image, r region.Rect) bool
}

// DefaultEffect blurs the region twice and blends it 50/50 with a
// pixelated copy of the untouched region.
type DefaultEffect struct{}

func (e *DefaultEffect) Apply(dst draw.Image, r region.Rect) bool {
	b := dst.Bounds()
	c := r.Clamp(b.Dx(), b.Dy())
	if c.Empty() {
		return false
	}
	area := c.Image().Add(b.Min)

	face := imaging.Crop(dst, area)

	k1, k2 := KernelSizes(c.Width, c.Height)
	blurred := imaging.Blur(face, Sigma(k1))
	blurred = imaging.Blur(blurred, Sigma(k2))

	// Пикселизация берётся с исходного фрагмента, не с размытого
	side := PixelSize(c.Width, c.Height)
	small := imaging.Resize(face, side, side, imaging.Box)
	pixelated := imaging.Resize(small, c.Width, c.Height, imaging.NearestNeighbor)

	final := imaging.Overlay(blurred, pixelated, image.Point{}, 0.5)
	draw.Draw(dst, area, final, image.Point{}, draw.Src)
	return true
}

// ApplyAll runs eff over every region in order and returns how many were
// actually written.
func ApplyAll(eff Effect, dst draw.Image, regions []region.Rect) int {
	n := 0
	for _, r := range regions {
		if eff.Apply(dst, r) {
			n++
		}
	}
	return n
}
