package raster

import (
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// View is the geographic viewport a renderer draws.
type View struct {
	Center geo.Point
	Zoom   float64
}

// Spec describes the renderer a consumer needs.
type Spec struct {
	// Content identifies what is drawn (a style, a tile source).
	Content string

	// Width and Height of the produced canvas in pixels.
	Width  int
	Height int

	// WorldUnitsPerPixel is copied onto every produced frame.
	WorldUnitsPerPixel float64

	View View
}

// SameTarget reports whether a renderer built for s can serve o without
// being reconfigured.
func (s Spec) SameTarget(o Spec) bool {
	return s.Content == o.Content && s.Width == o.Width && s.Height == o.Height
}

// Projection is the renderer's own geo<->pixel mapping for one completed view.
// It is a snapshot: it stays valid after the renderer moves on.
type Projection interface {
	GeoToPixel(p geo.Point) geo.Pixel
	PixelToGeo(px geo.Pixel) geo.Point
	Bounds() geo.Bounds
}

// CompleteFunc receives the result of one view render.
type CompleteFunc func(frame *Frame, proj Projection, err error)

// Renderer is the map-tile backend. Render returns immediately and calls done
// exactly once when the view is complete, possibly from another goroutine.
// The pool may call Render again before an earlier render has completed, when
// a new view supersedes it. The completion of the superseded render is still
// expected and is discarded by the pool.
type Renderer interface {
	Render(view View, done CompleteFunc)
	Close() error
}

// Reconfigurer is implemented by renderers that can switch content or size
// in place. Renderers without it are recreated instead.
type Reconfigurer interface {
	Reconfigure(spec Spec) error
}

// Factory creates renderers for the pool.
type Factory interface {
	NewRenderer(spec Spec) (Renderer, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(spec Spec) (Renderer, error)

// NewRenderer implements Factory.
func (f FactoryFunc) NewRenderer(spec Spec) (Renderer, error) {
	return f(spec)
}
