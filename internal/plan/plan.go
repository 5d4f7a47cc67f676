// Package plan turns a source image and a target rectangle into the ordered
// list of canvas pixels to paint.
package plan

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidRect is returned for rectangles that cannot be painted.
var ErrInvalidRect = errors.New("plan: invalid rectangle")

// Point is a pixel coordinate.
type Point struct {
	X, Y int
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Rect is the target area on the canvas. End is exclusive. With AutoFit the
// end is derived from the image size.
type Rect struct {
	Start   Point
	End     Point
	AutoFit bool
}

// Validate checks the rectangle before any network activity.
func (r Rect) Validate() error {
	if r.Start.X < 0 || r.Start.Y < 0 {
		return fmt.Errorf("%w: start %s must not be negative", ErrInvalidRect, r.Start)
	}
	if r.AutoFit {
		return nil
	}
	if r.End.X <= r.Start.X {
		return fmt.Errorf("%w: end x %d must be greater than start x %d", ErrInvalidRect, r.End.X, r.Start.X)
	}
	if r.End.Y <= r.Start.Y {
		return fmt.Errorf("%w: end y %d must be greater than start y %d", ErrInvalidRect, r.End.Y, r.Start.Y)
	}
	return nil
}

// Size returns the width and height of the rectangle.
func (r Rect) Size() (int, int) {
	return r.End.X - r.Start.X, r.End.Y - r.Start.Y
}

// Entry is one planned pixel.
type Entry struct {
	Image  Point
	Canvas Point
	Color  string
}

// Plan is the row-major list of pixels to paint.
type Plan struct {
	Offset  Point
	Width   int
	Height  int
	Entries []Entry
	Source  *image.NRGBA
}

// Len returns the number of planned pixels.
func (p *Plan) Len() int { return len(p.Entries) }

// FromNRGBA plans every pixel of img, row by row, shifted by offset. Alpha
// is ignored.
func FromNRGBA(img *image.NRGBA, offset Point) *Plan {
	b := img.Bounds()
	p := &Plan{
		Offset:  offset,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Entries: make([]Entry, 0, b.Dx()*b.Dy()),
		Source:  img,
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			px := img.Pix[i : i+3 : i+3]
			p.Entries = append(p.Entries, Entry{
				Image:  Point{X: x, Y: y},
				Canvas: Point{X: x + offset.X, Y: y + offset.Y},
				Color:  Hex(px[0], px[1], px[2]),
			})
		}
	}
	return p
}

// OutOfBounds counts entries that fall outside a width x height canvas.
func (p *Plan) OutOfBounds(width, height int) int {
	n := 0
	for _, e := range p.Entries {
		if e.Canvas.X >= width || e.Canvas.Y >= height {
			n++
		}
	}
	return n
}
