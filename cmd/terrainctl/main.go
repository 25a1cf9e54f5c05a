// Package main is the entry point for terrainctl: it builds a terrain from
// tile directories and answers projection and height queries against it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/config"
	"github.com/Faultbox/geoterrain/internal/engine/camera"
	"github.com/Faultbox/geoterrain/internal/engine/glcontext"
	"github.com/Faultbox/geoterrain/internal/engine/heightbuf"
	"github.com/Faultbox/geoterrain/internal/engine/loadjoin"
	"github.com/Faultbox/geoterrain/internal/engine/picking"
	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/internal/engine/raster/tiles"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/metrics"
	"github.com/Faultbox/geoterrain/internal/preview"
	"github.com/Faultbox/geoterrain/internal/terrain"
	"github.com/Faultbox/geoterrain/pkg/geo"
	"github.com/Faultbox/geoterrain/pkg/math"
)

var (
	flagProject   = flag.String("project", "", "Project lon,lat to world space")
	flagUnproject = flag.String("unproject", "", "Unproject world x,y to lon,lat")
	flagPreview   = flag.String("preview", "", "Write a height preview PNG")
	flagDistance  = flag.Float64("distance", 0, "Orbit camera distance for LOD selection (0 fits the footprint)")
	flagTimeout   = flag.Duration("timeout", 30*time.Second, "How long to wait for the terrain")
	flagWrite     = flag.Bool("write-config", false, "Save the effective config to the user config directory and exit")
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Sugar.Debugf("Config: %+v", cfg)

	if *flagWrite {
		if err := cfg.Save(); err != nil {
			logger.Error("saving config", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("config saved", zap.String("dir", config.ConfigDir()))
		return
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, metrics.Handler(reg)); err != nil {
				logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	if !cfg.HeightBuffer.GPU {
		if err := run(cfg, m, nil); err != nil {
			logger.Error("terrainctl failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	// GL is bound to the main thread: run the work elsewhere and serve its
	// GL calls here.
	glctx, err := glcontext.New(logger.For("gl"))
	if err != nil {
		logger.Error("creating GL context", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var runErr error
	go func() {
		defer cancel()
		runErr = run(cfg, m, glctx)
	}()
	glctx.Serve(ctx)

	if err := glctx.Close(); err != nil {
		logger.Warn("closing GL context", zap.Error(err))
	}
	if runErr != nil {
		logger.Error("terrainctl failed", zap.Error(runErr))
		os.Exit(1)
	}
}

// run builds the terrain, waits for it and prints the requested queries.
func run(cfg *config.Config, m *metrics.Collectors, glctx *glcontext.Context) error {
	if cfg.Sources.Imagery == "" {
		return errors.New("no imagery tiles: set sources.imagery or -imagery")
	}
	if cfg.Terrain.UseHeightmap && cfg.Sources.Elevation == "" {
		return errors.New("no elevation tiles: set sources.elevation or -elevation")
	}

	sources := map[string]tiles.Source{
		string(loadjoin.Imagery): tiles.DirSource{Root: cfg.Sources.Imagery, Ext: cfg.Sources.Ext},
	}
	if cfg.Terrain.UseHeightmap {
		sources[string(loadjoin.Elevation)] = tiles.DirSource{Root: cfg.Sources.Elevation, Ext: cfg.Sources.Ext}
	}
	factory := tiles.NewFactory(sources, tiles.Options{
		MaxZoom:     cfg.Sources.MaxZoom,
		PowerOfTwo:  cfg.Sources.PowerOfTwo,
		Parallelism: cfg.Sources.Parallelism,
		Logger:      logger.For("tiles"),
	})

	pool, err := raster.NewPool(factory, raster.PoolOptions{
		Capacity:     cfg.Pool.Capacity,
		DisposeDelay: cfg.Pool.DisposeDelay,
		Logger:       logger.For("pool"),
		Metrics:      m,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	opts := terrainOptions(cfg, m)
	if glctx != nil {
		opts.Heights.NewTarget = heightbuf.Dispatched(heightbuf.GLTargetFactory(cfg.HeightBuffer.Channel), glctx.Call)
	}

	tr, err := terrain.New(pool, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Dispose(); err != nil {
			logger.Warn("disposing terrain", zap.Error(err))
		}
	}()

	ready := make(chan terrain.Generation, 1)
	failed := make(chan error, 1)
	tr.OnReady(func(gen terrain.Generation) {
		select {
		case ready <- gen:
		default:
		}
	})
	tr.OnFailure(func(_ terrain.Generation, err error) {
		select {
		case failed <- err:
		default:
		}
	})

	view := raster.View{
		Center: geo.Point{Lon: cfg.Terrain.Center.Lon, Lat: cfg.Terrain.Center.Lat},
		Zoom:   cfg.Terrain.Zoom,
	}
	start := time.Now()
	if _, err := tr.SetView(view); err != nil {
		return err
	}

	select {
	case gen := <-ready:
		logger.Info("terrain loaded", zap.Uint64("generation", uint64(gen)), zap.Duration("took", time.Since(start)))
	case err := <-failed:
		return fmt.Errorf("loading terrain: %w", err)
	case <-time.After(*flagTimeout):
		return fmt.Errorf("terrain not ready after %v", *flagTimeout)
	}

	return report(cfg, tr)
}

func terrainOptions(cfg *config.Config, m *metrics.Collectors) terrain.Options {
	t := cfg.Terrain
	return terrain.Options{
		Footprint:             geo.Footprint{Width: t.Footprint.Width, Height: t.Footprint.Height},
		PixelsPerWorldUnitX:   t.PixelsPerWorldUnit.X,
		PixelsPerWorldUnitY:   t.PixelsPerWorldUnit.Y,
		SegmentsX:             t.SegmentsX,
		SegmentsY:             t.SegmentsY,
		DisplacementScale:     t.DisplacementScale,
		DisplacementBias:      t.DisplacementBias,
		LODCount:              cfg.LOD.Count,
		LODFactor:             cfg.LOD.Factor,
		LODThresholds:         cfg.LOD.Thresholds,
		Heights:               heightbuf.Options{Channel: cfg.HeightBuffer.Channel, Logger: logger.For("heightbuf"), Metrics: m},
		RangeMeters:           t.ElevationRangeMeters,
		HighestAltitudeMeters: t.HighestAltitudeMeters,
		UseHeightmap:          t.UseHeightmap,
		UseBuffer:             t.UseBuffer,
		Logger:                logger.For("terrain"),
		Metrics:               m,
	}
}

func report(cfg *config.Config, tr *terrain.Terrain) error {
	bounds, err := tr.Bounds()
	if err != nil {
		return err
	}
	fmt.Printf("bounds: west=%.6f south=%.6f east=%.6f north=%.6f\n", bounds.West, bounds.South, bounds.East, bounds.North)

	if cfg.Terrain.UseHeightmap {
		stats, err := tr.Stats()
		if err != nil {
			return err
		}
		if stats.Empty() {
			fmt.Println("elevation: no data")
		} else {
			fmt.Printf("elevation: min=%.1fm max=%.1fm mode=%d\n", stats.MinMeters(), stats.MaxMeters(), stats.Mode())
		}
	}

	var marks []geo.World
	if *flagProject != "" {
		lon, lat, err := config.ParsePair(*flagProject)
		if err != nil {
			return fmt.Errorf("-project: %w", err)
		}
		pt := geo.Point{Lon: lon, Lat: lat}
		w, ok, err := tr.Project(pt)
		if err != nil && !errors.Is(err, heightbuf.ErrNotRendered) {
			return err
		}
		if !ok {
			fmt.Printf("project %.6f,%.6f: out of range\n", lon, lat)
		} else {
			dist, _ := tr.DistanceTo(pt)
			fmt.Printf("project %.6f,%.6f: x=%.4f y=%.4f z=%.4f (%.0fm from center)\n", lon, lat, w.X, w.Y, w.Z, dist)
			marks = append(marks, w)
		}
	}

	if *flagUnproject != "" {
		x, y, err := config.ParsePair(*flagUnproject)
		if err != nil {
			return fmt.Errorf("-unproject: %w", err)
		}
		pt, ok, err := tr.Unproject(x, y)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("unproject %.4f,%.4f: out of range\n", x, y)
		} else {
			h, err := tr.HeightInMeters(x, y)
			if err != nil && !errors.Is(err, heightbuf.ErrNotRendered) {
				return err
			}
			fmt.Printf("unproject %.4f,%.4f: lon=%.6f lat=%.6f height=%.1fm\n", x, y, pt.Lon, pt.Lat, h)
			marks = append(marks, geo.World{X: x, Y: y})
		}
	}

	// Orbit the terrain point under the view center.
	center, _, err := tr.Project(tr.View().Center)
	if err != nil && !errors.Is(err, heightbuf.ErrNotRendered) {
		return err
	}
	cam := camera.NewOrbit(center)
	cam.FitToFootprint(geo.Footprint{Width: cfg.Terrain.Footprint.Width, Height: cfg.Terrain.Footprint.Height})
	if *flagDistance > 0 {
		cam.Distance = *flagDistance
	}
	level, err := tr.SelectLOD(cam.DistanceTo(center))
	if err != nil {
		return err
	}
	r := tr.LOD()
	fmt.Printf("lod: level=%d segments=%dx%d indices=%d\n", level, r.SegmentsX, r.SegmentsY, r.IndexCount)

	if cfg.Terrain.UseHeightmap {
		ray, err := picking.NewRay(cam.Position(), math.Vec3{X: center.X, Y: center.Y, Z: center.Z})
		if err != nil {
			return err
		}
		hit, ok, err := picking.Cast(ray, tr.SurfaceZ, cam.Distance*2, cam.Distance/256)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("camera ray: ground at x=%.4f y=%.4f z=%.4f\n", hit.X, hit.Y, hit.Z)
		}
	}

	if *flagPreview != "" {
		if err := writePreview(*flagPreview, cfg, tr, marks); err != nil {
			return fmt.Errorf("writing preview: %w", err)
		}
		fmt.Printf("preview: %s\n", *flagPreview)
	}
	return nil
}

func writePreview(path string, cfg *config.Config, tr *terrain.Terrain, marks []geo.World) error {
	mat, err := tr.Material()
	if err != nil {
		return err
	}
	frame, channel := mat.Elevation, cfg.HeightBuffer.Channel
	if frame == nil {
		frame, channel = mat.Imagery, 0
	}

	canvas, err := preview.New(frame, channel)
	if err != nil {
		return err
	}
	defer canvas.Close()

	r := tr.LOD()
	if err := canvas.Grid(r.SegmentsX, r.SegmentsY); err != nil {
		return err
	}

	w, h := canvas.Size()
	// The view center is always marked.
	for _, m := range append([]geo.World{{}}, marks...) {
		if err := canvas.Mark(previewPixel(m, cfg.Terrain.Footprint, w, h), 3); err != nil {
			return err
		}
	}
	return canvas.Save(path)
}

// previewPixel maps world x/y onto a canvas covering the footprint, y down.
func previewPixel(m geo.World, fp config.Size, width, height int) geo.Pixel {
	return geo.Pixel{
		X: (m.X/fp.Width + 0.5) * float64(width),
		Y: (0.5 - m.Y/fp.Height) * float64(height),
	}
}
