// Package raster manages raster frames produced by an external map-tile
// renderer and the pool of reusable renderer slots that produce them.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// ErrEmptyFrame is returned when a frame has no pixels.
var ErrEmptyFrame = errors.New("raster: empty frame")

// Frame is a rendered canvas. Pixels are stored non-premultiplied so an
// elevation value carried in the alpha channel survives unchanged.
type Frame struct {
	Pix *image.NRGBA

	// WorldUnitsPerPixel is the ratio the producing renderer was sized with.
	WorldUnitsPerPixel float64
}

// NewFrame wraps an image as a frame, converting it to NRGBA when needed.
func NewFrame(img image.Image, worldUnitsPerPixel float64) (*Frame, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyFrame
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Bounds().Min != (image.Point{}) {
		b := img.Bounds()
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	return &Frame{Pix: nrgba, WorldUnitsPerPixel: worldUnitsPerPixel}, nil
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Pix.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Pix.Bounds().Dy()
}

// Size returns the frame dimensions in pixels.
func (f *Frame) Size() (width, height int) {
	return f.Width(), f.Height()
}

// Channel returns the 8-bit value of channel c (0=R, 1=G, 2=B, 3=A) at (x, y).
// Coordinates outside the frame are clamped to the nearest edge.
func (f *Frame) Channel(x, y, c int) uint8 {
	w, h := f.Size()
	x = clampInt(x, 0, w-1)
	y = clampInt(y, 0, h-1)
	return f.Pix.Pix[f.Pix.PixOffset(x, y)+c]
}

// Copy returns an independently owned copy of the frame. The source may be
// a sub-image with a wider stride.
func Copy(f *Frame) *Frame {
	dst := image.NewNRGBA(image.Rect(0, 0, f.Width(), f.Height()))
	draw.Draw(dst, dst.Bounds(), f.Pix, f.Pix.Bounds().Min, draw.Src)
	return &Frame{Pix: dst, WorldUnitsPerPixel: f.WorldUnitsPerPixel}
}

// CopyRect returns an independently owned copy of the pixels inside r.
// The rectangle is intersected with the frame bounds first.
func CopyRect(f *Frame, r image.Rectangle) (*Frame, error) {
	r = r.Intersect(f.Pix.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("copy %v of %dx%d frame: %w", r, f.Width(), f.Height(), ErrEmptyFrame)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), f.Pix, r.Min, draw.Src)
	return &Frame{Pix: dst, WorldUnitsPerPixel: f.WorldUnitsPerPixel}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
