// Package rastertest provides a controllable in-memory renderer for tests.
package rastertest

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// DegreesPerPixel is the span each fake pixel covers.
const DegreesPerPixel = 0.001

// FillFunc paints the canvas for one view.
type FillFunc func(spec raster.Spec, view raster.View, img *image.NRGBA)

// Renderer records render requests until the test completes them.
type Renderer struct {
	mu      sync.Mutex
	spec    raster.Spec
	fill    FillFunc
	queue   []call
	renders int
	closed  bool
}

type call struct {
	view raster.View
	done raster.CompleteFunc
}

// Render implements raster.Renderer.
func (r *Renderer) Render(view raster.View, done raster.CompleteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
	r.queue = append(r.queue, call{view: view, done: done})
}

// Close implements raster.Renderer.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("rastertest: renderer closed twice")
	}
	r.closed = true
	return nil
}

// Spec returns the spec the renderer was created with.
func (r *Renderer) Spec() raster.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// Renders returns how many renders were requested.
func (r *Renderer) Renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders
}

// Pending returns how many renders await completion.
func (r *Renderer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Closed reports whether Close was called.
func (r *Renderer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Complete finishes the oldest pending render. It reports false when
// nothing was pending.
func (r *Renderer) Complete() bool {
	c, spec, ok := r.pop()
	if !ok {
		return false
	}

	img := image.NewNRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	if r.fill != nil {
		r.fill(spec, c.view, img)
	}
	frame, err := raster.NewFrame(img, spec.WorldUnitsPerPixel)
	c.done(frame, Projection(spec, c.view), err)
	return true
}

// Fail finishes the oldest pending render with err.
func (r *Renderer) Fail(err error) bool {
	c, _, ok := r.pop()
	if !ok {
		return false
	}
	c.done(nil, nil, err)
	return true
}

// CompleteAll finishes every pending render, oldest first.
func (r *Renderer) CompleteAll() int {
	n := 0
	for r.Complete() {
		n++
	}
	return n
}

func (r *Renderer) pop() (call, raster.Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return call{}, raster.Spec{}, false
	}
	c := r.queue[0]
	r.queue = r.queue[1:]
	return c, r.spec, true
}

// Projection returns the linear projection a fake renderer uses for view:
// the view center sits in the middle of the canvas and each pixel spans
// DegreesPerPixel.
func Projection(spec raster.Spec, view raster.View) raster.BoundsProjection {
	halfW := float64(spec.Width) / 2 * DegreesPerPixel
	halfH := float64(spec.Height) / 2 * DegreesPerPixel
	return raster.BoundsProjection{
		Area: geo.Bounds{
			West:  view.Center.Lon - halfW,
			South: view.Center.Lat - halfH,
			East:  view.Center.Lon + halfW,
			North: view.Center.Lat + halfH,
		},
		Width:  spec.Width,
		Height: spec.Height,
	}
}

// Factory builds fake renderers and remembers them in creation order.
type Factory struct {
	mu        sync.Mutex
	fill      FillFunc
	renderers []*Renderer

	// Err, when set, is returned by NewRenderer.
	Err error
}

// NewFactory creates a factory whose renderers paint with fill (may be nil).
func NewFactory(fill FillFunc) *Factory {
	return &Factory{fill: fill}
}

// NewRenderer implements raster.Factory.
func (f *Factory) NewRenderer(spec raster.Spec) (raster.Renderer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	r := &Renderer{spec: spec, fill: f.fill}
	f.renderers = append(f.renderers, r)
	return r, nil
}

// Renderers returns every renderer created so far.
func (f *Factory) Renderers() []*Renderer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Renderer(nil), f.renderers...)
}

// Renderer returns the i-th created renderer.
func (f *Factory) Renderer(i int) *Renderer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renderers[i]
}

// CompleteAll finishes every pending render on every renderer.
func (f *Factory) CompleteAll() int {
	n := 0
	for _, r := range f.Renderers() {
		n += r.CompleteAll()
	}
	return n
}

// Uniform returns a FillFunc painting every pixel with c.
func Uniform(c color.NRGBA) FillFunc {
	return func(_ raster.Spec, _ raster.View, img *image.NRGBA) {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}
