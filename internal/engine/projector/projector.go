// Package projector maps between geographic, raster-pixel and world space.
//
// Geographic to pixel conversion belongs to the raster producer and is
// injected as a raster.Projection. The projector owns the pixel to world
// half and the height term:
//
//	worldX = pixelX/ratioX - width/2
//	worldY = height/2 - pixelY/ratioY
//	worldZ = sample(pixelX, pixelY)*scale + bias
//
// Pixel rows grow downward, world Y grows upward.
package projector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// DefaultRangeMeters converts a normalized height to meters.
const DefaultRangeMeters = 8900

// ErrUnbound is returned before a raster projection has been bound.
var ErrUnbound = errors.New("projector: no raster bound")

// Heights is a sampleable height source in texel coordinates.
type Heights interface {
	Sample(x, y float64) (float64, error)
	Size() (width, height int)
}

// Options configures a Projector.
type Options struct {
	Footprint geo.Footprint

	// Nominal per-axis ratios. Replaced by the ratios of the bound raster.
	PixelsPerWorldUnitX float64
	PixelsPerWorldUnitY float64

	DisplacementScale float64
	DisplacementBias  float64

	// RangeMeters defaults to DefaultRangeMeters.
	RangeMeters float64

	// Bounds restricts projection to a static area when set.
	Bounds *geo.Bounds
}

// Projector converts coordinates for one terrain view. It is safe for
// concurrent use.
type Projector struct {
	footprint geo.Footprint
	scale     float64
	bias      float64
	meters    float64
	bounds    *geo.Bounds

	mu       sync.RWMutex
	proj     raster.Projection
	ratioX   float64
	ratioY   float64
	imgW     int
	imgH     int
	heights  Heights
	noHeight error
}

// New validates opts and returns an unbound projector.
func New(opts Options) (*Projector, error) {
	if !opts.Footprint.Valid() {
		return nil, fmt.Errorf("projector: invalid footprint %vx%v", opts.Footprint.Width, opts.Footprint.Height)
	}
	if opts.PixelsPerWorldUnitX <= 0 || opts.PixelsPerWorldUnitY <= 0 {
		return nil, fmt.Errorf("projector: non-positive pixel ratio %v/%v", opts.PixelsPerWorldUnitX, opts.PixelsPerWorldUnitY)
	}
	if opts.Bounds != nil && !opts.Bounds.Valid() {
		return nil, fmt.Errorf("projector: invalid bounds %v", *opts.Bounds)
	}
	if opts.RangeMeters <= 0 {
		opts.RangeMeters = DefaultRangeMeters
	}

	return &Projector{
		footprint: opts.Footprint,
		scale:     opts.DisplacementScale,
		bias:      opts.DisplacementBias,
		meters:    opts.RangeMeters,
		bounds:    opts.Bounds,
		ratioX:    opts.PixelsPerWorldUnitX,
		ratioY:    opts.PixelsPerWorldUnitY,
	}, nil
}

// Bind attaches the projection of a width x height imagery raster. Ratios
// are derived per axis from its size, so power-of-two snapping is honored.
func (p *Projector) Bind(proj raster.Projection, width, height int) error {
	if proj == nil {
		return errors.New("projector: nil projection")
	}
	if width < 1 || height < 1 {
		return fmt.Errorf("projector: raster size %dx%d", width, height)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.proj = proj
	p.imgW, p.imgH = width, height
	p.ratioX = float64(width) / p.footprint.Width
	p.ratioY = float64(height) / p.footprint.Height
	return nil
}

// SetHeights attaches the height source. A nil source makes height
// queries return 0 with reason as the error.
func (p *Projector) SetHeights(h Heights, reason error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heights = h
	p.noHeight = reason
}

// Footprint returns the geometry footprint in world units.
func (p *Projector) Footprint() geo.Footprint {
	return p.footprint
}

// Bounds returns the static bounds, or the bound raster's bounds.
func (p *Projector) Bounds() (geo.Bounds, bool) {
	if p.bounds != nil {
		return *p.bounds, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.proj == nil {
		return geo.Bounds{}, false
	}
	return p.proj.Bounds(), true
}

func (p *Projector) pixelToWorld(px geo.Pixel) geo.World {
	return geo.World{
		X: px.X/p.ratioX - p.footprint.Width/2,
		Y: -(px.Y / p.ratioY) + p.footprint.Height/2,
	}
}

func (p *Projector) worldToPixel(x, y float64) geo.Pixel {
	return geo.Pixel{
		X: (x + p.footprint.Width/2) * p.ratioX,
		Y: (p.footprint.Height/2 - y) * p.ratioY,
	}
}

// Project maps pt to world space. ok is false when pt lies outside static
// bounds. A height error (such as an unrendered buffer) is returned with
// the point, whose Z then holds the bias applied to a zero sample.
func (p *Projector) Project(pt geo.Point) (w geo.World, ok bool, err error) {
	if p.bounds != nil && !p.bounds.Contains(pt) {
		return geo.World{}, false, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.proj == nil {
		return geo.World{}, false, ErrUnbound
	}

	px := p.proj.GeoToPixel(pt)
	w = p.pixelToWorld(px)
	h, err := p.sample(px)
	w.Z = h*p.scale + p.bias
	return w, true, err
}

// Unproject maps world x/y back to geographic coordinates. ok is false
// when unbound or when the result lies outside static bounds.
func (p *Projector) Unproject(x, y float64) (geo.Point, bool) {
	p.mu.RLock()
	proj := p.proj
	px := p.worldToPixel(x, y)
	p.mu.RUnlock()

	if proj == nil {
		return geo.Point{}, false
	}
	pt := proj.PixelToGeo(px)
	if p.bounds != nil && !p.bounds.Contains(pt) {
		return geo.Point{}, false
	}
	return pt, true
}

// Height returns the raw normalized height under world x/y.
func (p *Projector) Height(x, y float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.proj == nil {
		return 0, ErrUnbound
	}
	return p.sample(p.worldToPixel(x, y))
}

// HeightInMeters returns the height under world x/y in meters.
func (p *Projector) HeightInMeters(x, y float64) (float64, error) {
	h, err := p.Height(x, y)
	return h * p.meters, err
}

// HeightAt returns the raw normalized height at a geographic point.
func (p *Projector) HeightAt(pt geo.Point) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.proj == nil {
		return 0, ErrUnbound
	}
	return p.sample(p.proj.GeoToPixel(pt))
}

// sample reads the height under an imagery pixel. The height raster may
// differ in size from the imagery, so the pixel is rescaled per axis.
func (p *Projector) sample(px geo.Pixel) (float64, error) {
	if p.heights == nil {
		return 0, p.noHeight
	}
	bw, bh := p.heights.Size()
	return p.heights.Sample(px.X*float64(bw)/float64(p.imgW), px.Y*float64(bh)/float64(p.imgH))
}
