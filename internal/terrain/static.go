package terrain

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/Faultbox/geoterrain/internal/engine/loadjoin"
	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// NewStatic creates a terrain over pre-rendered rasters covering bounds.
// Projection is linear within bounds and points outside report ok=false.
// elevation may be nil when opts.UseHeightmap is false. The terrain is
// ready when NewStatic returns.
func NewStatic(opts Options, bounds geo.Bounds, imagery, elevation *raster.Frame) (*Terrain, error) {
	if !bounds.Valid() {
		return nil, fmt.Errorf("terrain: invalid static bounds %v", bounds)
	}
	if imagery == nil {
		return nil, fmt.Errorf("terrain: static terrain needs an imagery raster: %w", raster.ErrEmptyFrame)
	}
	if opts.UseHeightmap && elevation == nil {
		return nil, fmt.Errorf("terrain: static terrain needs an elevation raster: %w", raster.ErrEmptyFrame)
	}

	t, err := newTerrain(opts, &bounds)
	if err != nil {
		return nil, err
	}

	frames := map[loadjoin.Stream]*raster.Frame{loadjoin.Imagery: imagery, loadjoin.Elevation: elevation}
	gen := t.join.Generation()
	for _, stream := range t.streams {
		f := frames[stream]
		if t.opts.UseBuffer {
			f = raster.Copy(f)
		}
		proj := raster.BoundsProjection{Area: bounds, Width: f.Width(), Height: f.Height()}

		t.mu.Lock()
		err := t.ingestLocked(stream, f, proj)
		t.mu.Unlock()
		if err != nil {
			err = fmt.Errorf("loading static %s raster: %w", stream, err)
			return nil, multierr.Append(err, t.Dispose())
		}
		if _, err := t.join.Mark(stream, gen); err != nil {
			return nil, err
		}
	}
	return t, nil
}
