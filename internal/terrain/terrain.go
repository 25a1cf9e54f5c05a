// Package terrain ties the raster pool, height buffer, projector, LOD
// manager and load-join latch into one terrain instance.
//
// A dynamic terrain requests an imagery and an elevation raster for every
// view. When both arrive for the current view it builds the height buffer,
// rebinds the projector and fires its ready callbacks. Coordinate and height
// queries are only answered while the terrain is ready.
package terrain

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/engine/elevation"
	"github.com/Faultbox/geoterrain/internal/engine/heightbuf"
	"github.com/Faultbox/geoterrain/internal/engine/loadjoin"
	"github.com/Faultbox/geoterrain/internal/engine/lod"
	"github.com/Faultbox/geoterrain/internal/engine/projector"
	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/internal/metrics"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

var (
	// ErrDisposed is returned for any operation after Dispose.
	ErrDisposed = errors.New("terrain: disposed")

	// ErrNotReady is returned by queries before the current view is ready.
	ErrNotReady = errors.New("terrain: not ready")

	// ErrStatic is returned when re-viewing a static terrain.
	ErrStatic = errors.New("terrain: static terrain has a fixed view")

	// ErrPoolTooSmall is returned when a terrain that holds its slots
	// needs more streams than the pool has slots.
	ErrPoolTooSmall = errors.New("terrain: pool capacity below stream count")
)

// Generation numbers the view a callback belongs to.
type Generation = loadjoin.Generation

// ReadyFunc is notified once per view when both rasters are in.
type ReadyFunc func(gen Generation)

// FailureFunc is notified at most once per view when a raster fails.
type FailureFunc func(gen Generation, err error)

// Options configures a terrain.
type Options struct {
	Footprint           geo.Footprint
	PixelsPerWorldUnitX float64
	PixelsPerWorldUnitY float64
	SegmentsX           int
	SegmentsY           int

	DisplacementScale float64
	DisplacementBias  float64

	LODCount      int
	LODFactor     int
	LODThresholds []float64

	// Heights configures the elevation channel and render target.
	Heights heightbuf.Options

	// RangeMeters is the altitude of a full-scale height sample.
	RangeMeters float64

	// HighestAltitudeMeters pins the highest elevation pixel to a known
	// summit. Zero disables the offset.
	HighestAltitudeMeters float64

	// UseHeightmap requests an elevation raster. Without it the terrain is
	// ready on imagery alone and height queries report ErrNotRendered.
	UseHeightmap bool

	// UseBuffer copies frames out of their slots and returns the slots to
	// the pool right away. Otherwise slots are held until the next view.
	UseBuffer bool

	ImageryContent   string
	ElevationContent string

	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

// MaterialState is what the material layer needs once a view is ready.
type MaterialState struct {
	Generation        Generation
	Imagery           *raster.Frame
	Elevation         *raster.Frame
	DisplacementScale float64
	DisplacementBias  float64
}

// Terrain is one terrain instance.
type Terrain struct {
	opts      Options
	log       *zap.Logger
	metrics   *metrics.Collectors
	pool      *raster.Pool
	builder   *heightbuf.Builder
	projector *projector.Projector
	lod       *lod.Manager
	join      *loadjoin.Join
	streams   []loadjoin.Stream

	mu        sync.Mutex
	disposed  bool
	view      raster.View
	tickets   map[loadjoin.Stream]raster.Ticket
	returned  map[raster.Ticket]bool
	frames    map[loadjoin.Stream]*raster.Frame
	buffer    *heightbuf.Buffer
	stats     elevation.Stats
	failed    Generation
	onReady   []ReadyFunc
	onFailure []FailureFunc
}

// New creates a dynamic terrain drawing rasters from pool. Nothing is
// requested until SetView.
func New(pool *raster.Pool, opts Options) (*Terrain, error) {
	if pool == nil {
		return nil, errors.New("terrain: nil raster pool")
	}
	t, err := newTerrain(opts, nil)
	if err != nil {
		return nil, err
	}
	// Held slots are only returned on the next view, so every stream
	// needs its own slot.
	if capacity := pool.Stats().Capacity; !opts.UseBuffer && capacity > 0 && capacity < len(t.streams) {
		return nil, fmt.Errorf("capacity %d for %d streams: %w", capacity, len(t.streams), ErrPoolTooSmall)
	}
	t.pool = pool
	return t, nil
}

func newTerrain(opts Options, bounds *geo.Bounds) (*Terrain, error) {
	if opts.ImageryContent == "" {
		opts.ImageryContent = string(loadjoin.Imagery)
	}
	if opts.ElevationContent == "" {
		opts.ElevationContent = string(loadjoin.Elevation)
	}
	if opts.LODCount == 0 {
		opts.LODCount = 1
	}
	if opts.LODFactor == 0 {
		opts.LODFactor = lod.DefaultFactor
	}
	if opts.RangeMeters <= 0 {
		opts.RangeMeters = elevation.DefaultRangeMeters
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Heights.Logger == nil {
		opts.Heights.Logger = opts.Logger
	}
	if opts.Heights.Metrics == nil {
		opts.Heights.Metrics = opts.Metrics
	}

	proj, err := projector.New(projector.Options{
		Footprint:           opts.Footprint,
		PixelsPerWorldUnitX: opts.PixelsPerWorldUnitX,
		PixelsPerWorldUnitY: opts.PixelsPerWorldUnitY,
		DisplacementScale:   opts.DisplacementScale,
		DisplacementBias:    opts.DisplacementBias,
		RangeMeters:         opts.RangeMeters,
		Bounds:              bounds,
	})
	if err != nil {
		return nil, err
	}

	mesh, err := lod.Build(opts.Footprint, opts.SegmentsX, opts.SegmentsY, opts.LODCount, opts.LODFactor)
	if err != nil {
		return nil, err
	}
	sel, err := lod.NewSelector(opts.LODThresholds, opts.LODCount)
	if err != nil {
		return nil, err
	}

	builder, err := heightbuf.NewBuilder(opts.Heights)
	if err != nil {
		return nil, err
	}

	streams := []loadjoin.Stream{loadjoin.Imagery}
	if opts.UseHeightmap {
		streams = append(streams, loadjoin.Elevation)
	} else {
		proj.SetHeights(nil, heightbuf.ErrNotRendered)
	}
	join, err := loadjoin.New(streams...)
	if err != nil {
		return nil, err
	}

	t := &Terrain{
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		builder:   builder,
		projector: proj,
		lod:       lod.NewManager(mesh, sel),
		join:      join,
		streams:   streams,
		tickets:   make(map[loadjoin.Stream]raster.Ticket),
		returned:  make(map[raster.Ticket]bool),
		frames:    make(map[loadjoin.Stream]*raster.Frame),
	}
	join.OnReady(t.ready)
	return t, nil
}

// Spec returns the raster request for stream at view.
func (t *Terrain) Spec(stream loadjoin.Stream, view raster.View) raster.Spec {
	content := t.opts.ImageryContent
	if stream == loadjoin.Elevation {
		content = t.opts.ElevationContent
	}
	return raster.Spec{
		Content:            content,
		Width:              int(math.Round(t.opts.Footprint.Width * t.opts.PixelsPerWorldUnitX)),
		Height:             int(math.Round(t.opts.Footprint.Height * t.opts.PixelsPerWorldUnitY)),
		WorldUnitsPerPixel: 1 / t.opts.PixelsPerWorldUnitX,
		View:               view,
	}
}

// OnReady registers fn for every future ready cycle.
func (t *Terrain) OnReady(fn ReadyFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReady = append(t.onReady, fn)
}

// OnFailure registers fn for raster failures.
func (t *Terrain) OnFailure(fn FailureFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFailure = append(t.onFailure, fn)
}

// SetView requests rasters for view and starts a new ready cycle. Results
// of earlier views that are still in flight are dropped.
func (t *Terrain) SetView(view raster.View) (Generation, error) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return 0, ErrDisposed
	}
	if t.pool == nil {
		t.mu.Unlock()
		return 0, ErrStatic
	}
	gen := t.join.Arm()
	t.view = view
	held := make(map[loadjoin.Stream]raster.Ticket, len(t.tickets))
	for s, tk := range t.tickets {
		held[s] = tk
	}
	t.mu.Unlock()

	t.log.Debug("terrain view set",
		zap.Uint64("generation", uint64(gen)),
		zap.Float64("lon", view.Center.Lon),
		zap.Float64("lat", view.Center.Lat),
		zap.Float64("zoom", view.Zoom))

	// Pool calls run unlocked: renderers may complete synchronously.
	var errs error
	for _, stream := range t.streams {
		onReady := t.receive(stream, gen)
		if tk, ok := held[stream]; ok {
			if !t.opts.UseBuffer && t.pool.Rerender(tk, view, onReady) == nil {
				continue
			}
			// The slot still works on an older view.
			t.mu.Lock()
			delete(t.tickets, stream)
			t.mu.Unlock()
			t.giveBackLogged(tk)
		}

		tk, err := t.pool.Acquire(t.Spec(stream, view), onReady)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("acquiring %s raster: %w", stream, err))
			continue
		}
		t.mu.Lock()
		switch {
		case t.returned[tk]:
			// Already delivered and handed back.
			delete(t.returned, tk)
		case t.disposed:
			errs = multierr.Append(errs, t.giveBack(tk))
		default:
			t.tickets[stream] = tk
		}
		t.mu.Unlock()
	}
	return gen, errs
}

// View returns the last requested view.
func (t *Terrain) View() raster.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// receive returns the pool callback for stream in generation gen.
func (t *Terrain) receive(stream loadjoin.Stream, gen Generation) raster.ReadyFunc {
	return func(tk raster.Ticket, res raster.Result) {
		if t.opts.UseBuffer {
			defer t.handBack(stream, tk)
		}
		if res.Err == nil && res.Frame == nil {
			res.Err = errors.New("renderer returned no frame")
		}
		if res.Err != nil {
			t.fail(gen, fmt.Errorf("%s raster: %w", stream, res.Err))
			return
		}

		frame := res.Frame
		if t.opts.UseBuffer {
			frame = raster.Copy(frame)
		}

		t.mu.Lock()
		if t.disposed || gen != t.join.Generation() {
			t.mu.Unlock()
			t.log.Debug("stale raster ignored", zap.String("stream", string(stream)), zap.Uint64("generation", uint64(gen)))
			return
		}
		err := t.ingestLocked(stream, frame, res.Projection)
		t.mu.Unlock()

		if err != nil {
			t.fail(gen, err)
			return
		}
		if _, err := t.join.Mark(stream, gen); err != nil {
			t.log.Error("marking stream", zap.String("stream", string(stream)), zap.Error(err))
		}
	}
}

// handBack returns a delivered slot to the pool once its frame is copied.
func (t *Terrain) handBack(stream loadjoin.Stream, tk raster.Ticket) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	if t.tickets[stream] == tk {
		delete(t.tickets, stream)
	} else {
		t.returned[tk] = true
	}
	t.mu.Unlock()
	t.giveBackLogged(tk)
}

func (t *Terrain) ingestLocked(stream loadjoin.Stream, frame *raster.Frame, proj raster.Projection) error {
	t.frames[stream] = frame

	switch stream {
	case loadjoin.Imagery:
		return t.projector.Bind(proj, frame.Width(), frame.Height())

	case loadjoin.Elevation:
		if t.buffer == nil {
			buf, err := t.builder.Build(frame)
			if err != nil {
				return err
			}
			t.buffer = buf
		} else if err := t.buffer.Update(frame); err != nil {
			return err
		}
		if err := t.buffer.Render(); err != nil {
			return err
		}
		t.projector.SetHeights(t.buffer, nil)
		t.stats = elevation.Analyze(frame, t.builder.Channel(), t.opts.RangeMeters, t.opts.HighestAltitudeMeters)
		if t.stats.Empty() {
			t.log.Warn("elevation raster has no data pixels")
		}
	}
	return nil
}

func (t *Terrain) ready(gen Generation) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	callbacks := append([]ReadyFunc(nil), t.onReady...)
	t.mu.Unlock()

	t.metrics.ReadyCycle()
	t.log.Info("terrain ready", zap.Uint64("generation", uint64(gen)))
	for _, fn := range callbacks {
		fn(gen)
	}
}

func (t *Terrain) fail(gen Generation, err error) {
	t.mu.Lock()
	if t.disposed || t.failed == gen || gen != t.join.Generation() {
		t.mu.Unlock()
		return
	}
	t.failed = gen
	callbacks := append([]FailureFunc(nil), t.onFailure...)
	t.mu.Unlock()

	t.log.Error("terrain raster failed", zap.Uint64("generation", uint64(gen)), zap.Error(err))
	for _, fn := range callbacks {
		fn(gen, err)
	}
}

// giveBack returns a ticket to the pool: released when the pool recycles
// renderers, disposed when it does not.
func (t *Terrain) giveBack(tk raster.Ticket) error {
	if t.pool.Stats().Capacity == 0 {
		return t.pool.Dispose(tk)
	}
	return t.pool.Release(tk)
}

func (t *Terrain) giveBackLogged(tk raster.Ticket) {
	if err := t.giveBack(tk); err != nil {
		t.log.Warn("returning raster slot", zap.Uint64("ticket", uint64(tk)), zap.Error(err))
	}
}

// Ready reports whether the current view is ready.
func (t *Terrain) Ready() bool {
	return t.join.Ready()
}

// check returns ErrDisposed or ErrNotReady when queries are not allowed.
func (t *Terrain) check() error {
	t.mu.Lock()
	disposed := t.disposed
	t.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if !t.join.Ready() {
		return ErrNotReady
	}
	return nil
}

// Project maps a geographic point to world space. ok is false outside a
// static terrain's bounds.
func (t *Terrain) Project(pt geo.Point) (geo.World, bool, error) {
	if err := t.check(); err != nil {
		return geo.World{}, false, err
	}
	return t.projector.Project(pt)
}

// Unproject maps world x/y to a geographic point. ok is false outside a
// static terrain's bounds.
func (t *Terrain) Unproject(x, y float64) (geo.Point, bool, error) {
	if err := t.check(); err != nil {
		return geo.Point{}, false, err
	}
	pt, ok := t.projector.Unproject(x, y)
	return pt, ok, nil
}

// Height returns the normalized height under world x/y.
func (t *Terrain) Height(x, y float64) (float64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.projector.Height(x, y)
}

// HeightInMeters returns the height under world x/y in meters.
func (t *Terrain) HeightInMeters(x, y float64) (float64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.projector.HeightInMeters(x, y)
}

// SurfaceZ returns the displaced world z under world x/y, the height the
// vertex shader lifts the mesh to.
func (t *Terrain) SurfaceZ(x, y float64) (float64, error) {
	h, err := t.Height(x, y)
	if err != nil {
		return 0, err
	}
	return h*t.opts.DisplacementScale + t.opts.DisplacementBias, nil
}

// Bounds returns the geographic area of the current view.
func (t *Terrain) Bounds() (geo.Bounds, error) {
	if err := t.check(); err != nil {
		return geo.Bounds{}, err
	}
	b, _ := t.projector.Bounds()
	return b, nil
}

// SetLOD activates a detail level. Unknown levels return lod.ErrUnknownLevel.
func (t *Terrain) SetLOD(level int) error {
	if t.isDisposed() {
		return ErrDisposed
	}
	return t.lod.Apply(level)
}

// SelectLOD activates the level matching a camera distance.
func (t *Terrain) SelectLOD(distance float64) (int, error) {
	if t.isDisposed() {
		return 0, ErrDisposed
	}
	return t.lod.Select(distance)
}

// LOD returns the active draw range.
func (t *Terrain) LOD() lod.Range {
	return t.lod.Active()
}

// Mesh returns the merged multi-level geometry.
func (t *Terrain) Mesh() *lod.Mesh {
	return t.lod.Mesh()
}

// Material returns the state the material layer applies for the ready view.
func (t *Terrain) Material() (MaterialState, error) {
	if err := t.check(); err != nil {
		return MaterialState{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return MaterialState{
		Generation:        t.join.Generation(),
		Imagery:           t.frames[loadjoin.Imagery],
		Elevation:         t.frames[loadjoin.Elevation],
		DisplacementScale: t.opts.DisplacementScale,
		DisplacementBias:  t.opts.DisplacementBias,
	}, nil
}

// Stats returns the elevation statistics of the ready view.
func (t *Terrain) Stats() (elevation.Stats, error) {
	if err := t.check(); err != nil {
		return elevation.Stats{}, err
	}
	if !t.opts.UseHeightmap {
		return elevation.Stats{}, heightbuf.ErrNotRendered
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, nil
}

// DistanceTo returns the great-circle distance in meters from the view
// center to pt.
func (t *Terrain) DistanceTo(pt geo.Point) (float64, error) {
	if t.isDisposed() {
		return 0, ErrDisposed
	}
	return t.center().DistanceTo(pt), nil
}

// AltitudeTo returns the altitude of the view center minus the altitude of
// pt, in meters.
func (t *Terrain) AltitudeTo(pt geo.Point) (float64, error) {
	stats, err := t.Stats()
	if err != nil {
		return 0, err
	}
	from, err := t.projector.HeightAt(t.center())
	if err != nil {
		return 0, err
	}
	to, err := t.projector.HeightAt(pt)
	if err != nil {
		return 0, err
	}
	return stats.Meters(from) - stats.Meters(to), nil
}

func (t *Terrain) center() geo.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pool == nil {
		b, _ := t.projector.Bounds()
		return b.Center()
	}
	return t.view.Center
}

func (t *Terrain) isDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Dispose returns every slot to the pool and frees the height buffer.
// All later calls return ErrDisposed.
func (t *Terrain) Dispose() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrDisposed
	}
	t.disposed = true
	tickets := t.tickets
	t.tickets = nil
	buf := t.buffer
	t.buffer = nil
	t.frames = nil
	t.mu.Unlock()

	var errs error
	for _, tk := range tickets {
		errs = multierr.Append(errs, t.giveBack(tk))
	}
	if buf != nil {
		errs = multierr.Append(errs, buf.Close())
	}
	t.log.Info("terrain disposed", zap.Int("slots", len(tickets)))
	return errs
}
