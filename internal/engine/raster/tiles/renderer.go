// Package tiles composes XYZ map tiles into viewport frames. It is the
// headless stand-in for the map-tile backend: each Renderer draws a
// mercator viewport from a Source and reports view-complete asynchronously.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/internal/engine/raster/mercator"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// ErrRendererClosed is reported for renders requested after Close.
var ErrRendererClosed = errors.New("tiles: renderer closed")

// Options configures renderers built by a Factory.
type Options struct {
	// MaxZoom is the deepest tile level the source has.
	MaxZoom int

	// PowerOfTwo rounds canvas sizes up to powers of two per axis.
	PowerOfTwo bool

	// Parallelism bounds concurrent tile fetches per render.
	Parallelism int

	Logger *zap.Logger
}

// Factory builds tile renderers. Sources are keyed by Spec.Content.
type Factory struct {
	sources map[string]Source
	opts    Options
}

// NewFactory creates a factory serving the given content sources.
func NewFactory(sources map[string]Source, opts Options) *Factory {
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = 20
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Factory{sources: sources, opts: opts}
}

// NewRenderer implements raster.Factory.
func (f *Factory) NewRenderer(spec raster.Spec) (raster.Renderer, error) {
	src, ok := f.sources[spec.Content]
	if !ok {
		return nil, fmt.Errorf("tiles: no source for content %q", spec.Content)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Renderer{
		spec:   spec,
		src:    src,
		opts:   f.opts,
		log:    f.opts.Logger.With(zap.String("content", spec.Content)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Renderer draws one canvas. It implements raster.Renderer and
// raster.Reconfigurer.
type Renderer struct {
	mu     sync.Mutex
	spec   raster.Spec
	src    Source
	opts   Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Render implements raster.Renderer. done runs on a separate goroutine.
func (r *Renderer) Render(view raster.View, done raster.CompleteFunc) {
	r.mu.Lock()
	spec, closed := r.spec, r.closed
	r.mu.Unlock()

	go func() {
		if closed {
			done(nil, nil, ErrRendererClosed)
			return
		}
		frame, vp, err := r.compose(spec, view)
		if err != nil {
			done(nil, nil, err)
			return
		}
		done(frame, vp, nil)
	}()
}

// Reconfigure implements raster.Reconfigurer. The source stays bound to
// the content the renderer was built for.
func (r *Renderer) Reconfigure(spec raster.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRendererClosed
	}
	if spec.Content != r.spec.Content {
		return fmt.Errorf("tiles: cannot switch content %q to %q", r.spec.Content, spec.Content)
	}
	r.spec = spec
	return nil
}

// Close implements raster.Renderer. In-flight renders are cancelled.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cancel()
	return nil
}

// Viewport returns the canvas geometry a render of view produces.
func (r *Renderer) Viewport(view raster.View) mercator.Viewport {
	r.mu.Lock()
	spec := r.spec
	r.mu.Unlock()
	return r.viewport(spec, view)
}

func (r *Renderer) viewport(spec raster.Spec, view raster.View) mercator.Viewport {
	vp := mercator.Viewport{Center: view.Center, Zoom: view.Zoom, Width: spec.Width, Height: spec.Height}
	if r.opts.PowerOfTwo {
		vp = vp.Snapped()
	}
	return vp
}

// Placement is a tile and the canvas rectangle it is drawn to.
type Placement struct {
	Tile maptile.Tile
	Dst  image.Rectangle
}

func (r *Renderer) compose(spec raster.Spec, view raster.View) (*raster.Frame, mercator.Viewport, error) {
	vp := r.viewport(spec, view)
	canvas := image.NewNRGBA(image.Rect(0, 0, vp.Width, vp.Height))

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.opts.Parallelism)

	var mu sync.Mutex
	missing := 0
	for _, p := range Cover(vp, r.opts.MaxZoom) {
		g.Go(func() error {
			img, err := r.src.Tile(ctx, p.Tile)
			if errors.Is(err, ErrTileNotFound) {
				mu.Lock()
				missing++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("tile %d/%d/%d: %w", p.Tile.Z, p.Tile.X, p.Tile.Y, err)
			}

			// Tiles never overlap, so each writes a disjoint canvas region.
			xdraw.NearestNeighbor.Scale(canvas, p.Dst, img, img.Bounds(), xdraw.Src, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, vp, fmt.Errorf("render %s view: %w", spec.Content, err)
	}
	if missing > 0 {
		r.log.Debug("tiles missing from source", zap.Int("count", missing))
	}

	ratio := spec.WorldUnitsPerPixel
	if vp.Width != spec.Width {
		ratio = ratio * float64(spec.Width) / float64(vp.Width)
	}
	frame, err := raster.NewFrame(canvas, ratio)
	return frame, vp, err
}

// Cover lists the tiles intersecting vp at floor(zoom), capped at maxZoom.
// Columns wrap across the antimeridian; rows outside the mercator square are
// skipped.
func Cover(vp mercator.Viewport, maxZoom int) []Placement {
	z := int(math.Floor(vp.Zoom))
	if z < 0 {
		z = 0
	}
	if z > maxZoom {
		z = maxZoom
	}

	n := 1 << uint(z)
	size := mercator.TileSize * math.Exp2(vp.Zoom-float64(z))
	o := vp.Origin()

	x0 := int(math.Floor(o.X / size))
	x1 := int(math.Floor((o.X + float64(vp.Width) - 1) / size))
	y0 := int(math.Floor(o.Y / size))
	y1 := int(math.Floor((o.Y + float64(vp.Height) - 1) / size))

	var out []Placement
	for ty := y0; ty <= y1; ty++ {
		if ty < 0 || ty >= n {
			continue
		}
		for tx := x0; tx <= x1; tx++ {
			wx := ((tx % n) + n) % n
			dst := image.Rect(
				int(math.Floor(float64(tx)*size-o.X)),
				int(math.Floor(float64(ty)*size-o.Y)),
				int(math.Floor(float64(tx+1)*size-o.X)),
				int(math.Floor(float64(ty+1)*size-o.Y)),
			)
			out = append(out, Placement{
				Tile: maptile.New(uint32(wx), uint32(ty), maptile.Zoom(z)),
				Dst:  dst,
			})
		}
	}
	return out
}

// TileAt returns the tile containing pt at zoom z.
func TileAt(pt geo.Point, z int) maptile.Tile {
	return maptile.At(pt.Orb(), maptile.Zoom(z))
}
