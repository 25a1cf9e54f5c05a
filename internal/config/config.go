// Package config handles terrain configuration loading and management.
package config

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config holds all terrain settings.
type Config struct {
	Terrain      TerrainConfig      `yaml:"terrain"`
	Pool         PoolConfig         `yaml:"pool"`
	LOD          LODConfig          `yaml:"lod"`
	HeightBuffer HeightBufferConfig `yaml:"height_buffer"`
	Sources      SourcesConfig      `yaml:"sources"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Ratio is a per-axis pixels-per-world-unit pair.
type Ratio struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Size is a footprint in world units.
type Size struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Location is a geographic point in degrees.
type Location struct {
	Lon float64 `yaml:"lon"`
	Lat float64 `yaml:"lat"`
}

// TerrainConfig holds geometry, displacement and initial view settings.
type TerrainConfig struct {
	Footprint             Size     `yaml:"footprint"`
	PixelsPerWorldUnit    Ratio    `yaml:"pixels_per_world_unit"`
	SegmentsX             int      `yaml:"segments_x"`
	SegmentsY             int      `yaml:"segments_y"`
	DisplacementScale     float64  `yaml:"displacement_scale"`
	DisplacementBias      float64  `yaml:"displacement_bias"`
	UseHeightmap          bool     `yaml:"use_heightmap"`
	UseBuffer             bool     `yaml:"use_buffer"` // Copy frames and return slots at once
	ElevationRangeMeters  float64  `yaml:"elevation_range_meters"`
	HighestAltitudeMeters float64  `yaml:"highest_altitude_meters"`
	Center                Location `yaml:"center"`
	Zoom                  float64  `yaml:"zoom"`
}

// PoolConfig holds raster renderer pool settings.
type PoolConfig struct {
	Capacity     int           `yaml:"capacity"` // 0 disables reuse
	DisposeDelay time.Duration `yaml:"dispose_delay"`
}

// LODConfig holds level-of-detail settings.
type LODConfig struct {
	Count      int       `yaml:"count"`
	Factor     int       `yaml:"factor"`
	Thresholds []float64 `yaml:"thresholds"`
}

// HeightBufferConfig holds height pass settings.
type HeightBufferConfig struct {
	Channel int  `yaml:"channel"` // 0=R 1=G 2=B 3=A
	GPU     bool `yaml:"gpu"`
}

// SourcesConfig holds tile source settings.
type SourcesConfig struct {
	Imagery     string `yaml:"imagery"`   // Directory of {z}/{x}/{y} tiles
	Elevation   string `yaml:"elevation"` // Directory of {z}/{x}/{y} tiles
	Ext         string `yaml:"ext"`
	MaxZoom     int    `yaml:"max_zoom"`
	PowerOfTwo  bool   `yaml:"power_of_two"`
	Parallelism int    `yaml:"parallelism"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			Footprint:            Size{Width: 10, Height: 10},
			PixelsPerWorldUnit:   Ratio{X: 51.2, Y: 51.2},
			SegmentsX:            64,
			SegmentsY:            64,
			DisplacementScale:    1,
			UseHeightmap:         true,
			UseBuffer:            true,
			ElevationRangeMeters: 8900,
			Center:               Location{Lon: 7.6586, Lat: 45.9763},
			Zoom:                 13,
		},
		Pool: PoolConfig{
			Capacity:     4,
			DisposeDelay: 300 * time.Millisecond,
		},
		LOD: LODConfig{
			Count:      4,
			Factor:     2,
			Thresholds: []float64{20, 30, 35},
		},
		HeightBuffer: HeightBufferConfig{
			Channel: 3,
		},
		Sources: SourcesConfig{
			Ext:         "png",
			MaxZoom:     20,
			PowerOfTwo:  true,
			Parallelism: 4,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports every setting the terrain engine cannot run with.
func (c *Config) Validate() error {
	var errs error
	t := c.Terrain

	if t.Footprint.Width <= 0 || t.Footprint.Height <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("terrain.footprint must be positive, got %vx%v", t.Footprint.Width, t.Footprint.Height))
	}
	if t.PixelsPerWorldUnit.X <= 0 || t.PixelsPerWorldUnit.Y <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("terrain.pixels_per_world_unit must be positive, got %v/%v", t.PixelsPerWorldUnit.X, t.PixelsPerWorldUnit.Y))
	}
	if t.SegmentsX < 1 || t.SegmentsY < 1 {
		errs = multierr.Append(errs, fmt.Errorf("terrain.segments must be at least 1, got %dx%d", t.SegmentsX, t.SegmentsY))
	}
	if t.Center.Lat < -90 || t.Center.Lat > 90 || t.Center.Lon < -180 || t.Center.Lon > 180 {
		errs = multierr.Append(errs, fmt.Errorf("terrain.center out of range: %v,%v", t.Center.Lon, t.Center.Lat))
	}
	if t.ElevationRangeMeters <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("terrain.elevation_range_meters must be positive, got %v", t.ElevationRangeMeters))
	}

	if c.Pool.Capacity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("pool.capacity must not be negative, got %d", c.Pool.Capacity))
	}
	streams := 1
	if t.UseHeightmap {
		streams = 2
	}
	if !t.UseBuffer && c.Pool.Capacity > 0 && c.Pool.Capacity < streams {
		errs = multierr.Append(errs, fmt.Errorf("pool.capacity %d cannot hold %d streams with terrain.use_buffer off", c.Pool.Capacity, streams))
	}
	if c.Pool.DisposeDelay < 0 {
		errs = multierr.Append(errs, fmt.Errorf("pool.dispose_delay must not be negative, got %v", c.Pool.DisposeDelay))
	}

	if c.LOD.Count < 1 || c.LOD.Count > 4 {
		errs = multierr.Append(errs, fmt.Errorf("lod.count must be 1..4, got %d", c.LOD.Count))
	}
	if c.LOD.Factor < 2 {
		errs = multierr.Append(errs, fmt.Errorf("lod.factor must be at least 2, got %d", c.LOD.Factor))
	}
	for i := 1; i < len(c.LOD.Thresholds); i++ {
		if c.LOD.Thresholds[i] <= c.LOD.Thresholds[i-1] {
			errs = multierr.Append(errs, fmt.Errorf("lod.thresholds must be strictly ascending, got %v", c.LOD.Thresholds))
			break
		}
	}

	if c.HeightBuffer.Channel < 0 || c.HeightBuffer.Channel > 3 {
		errs = multierr.Append(errs, fmt.Errorf("height_buffer.channel must be 0..3, got %d", c.HeightBuffer.Channel))
	}

	return errs
}
