// Package region holds the rectangle and candidate types shared by the
// detectors, fusion and the compositor, plus the overlap-merge primitive.
package region

import (
	"fmt"
	"image"
)

// Rect is an axis-aligned box in pixel space.
type Rect struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"w" json:"w"`
	Height int `yaml:"h" json:"h"`
}

// FromImage converts an image.Rectangle (Min/Max corners) to a Rect.
func FromImage(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Image returns the rectangle as an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Area returns Width*Height, or 0 for an empty rectangle.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Intersect returns the overlapping part of r and o. The result is empty
// when the rectangles only touch or do not meet.
func (r Rect) Intersect(o Rect) Rect {
	x1, y1 := max(r.X, o.X), max(r.Y, o.Y)
	x2, y2 := min(r.X+r.Width, o.X+o.Width), min(r.Y+r.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Clamp fits r inside a w x h image. The origin is pulled into the image
// first (at most to the last pixel column/row) and the size is cut back to
// the remaining space, so the result may be empty.
func (r Rect) Clamp(w, h int) Rect {
	if r.Empty() || w <= 0 || h <= 0 {
		return Rect{}
	}
	x := max(0, min(r.X, w-1))
	y := max(0, min(r.Y, h-1))
	cw := min(r.Width, w-x)
	ch := min(r.Height, h-y)
	if cw <= 0 || ch <= 0 {
		return Rect{}
	}
	return Rect{X: x, Y: y, Width: cw, Height: ch}
}

// Within reports whether r lies fully inside a w x h image.
func (r Rect) Within(w, h int) bool {
	return !r.Empty() && r.X >= 0 && r.Y >= 0 && r.X+r.Width <= w && r.Y+r.Height <= h
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
