package cv

import (
	"fmt"
	"image"
)

// Region is a device-relative search area with inclusive-exclusive corners
type Region struct {
	X1, Y1, X2, Y2 int
}

// NewRegion creates a new region
func NewRegion(x1, y1, x2, y2 int) Region {
	return Region{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Contains checks if a point is within the region
func (r Region) Contains(p image.Point) bool {
	return p.In(r.Rectangle())
}

// Width returns the width of the region
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height returns the height of the region
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// Rectangle converts Region to an image.Rectangle
func (r Region) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// ToImageRectangle converts Region to *image.Rectangle for use with MatchConfig
func (r Region) ToImageRectangle() *image.Rectangle {
	rect := r.Rectangle()
	return &rect
}

// Validate rejects inverted or empty regions
func (r Region) Validate() error {
	if r.X1 < 0 || r.Y1 < 0 {
		return fmt.Errorf("region %v has negative origin", r)
	}
	if r.Width() <= 0 || r.Height() <= 0 {
		return fmt.Errorf("region %v is empty", r)
	}
	return nil
}
