package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

var (
	flagConfig      = flag.String("config", "", "Path to config file")
	flagDebug       = flag.Bool("debug", false, "Enable debug logging")
	flagImagery     = flag.String("imagery", "", "Imagery tile directory")
	flagElevation   = flag.String("elevation", "", "Elevation tile directory")
	flagCenter      = flag.String("center", "", "View center as lon,lat")
	flagZoom        = flag.Float64("zoom", 0, "View zoom level")
	flagGPU         = flag.Bool("gpu", false, "Run the height pass on the GPU")
	flagMetricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// ParsePair parses "a,b" into two floats.
func ParsePair(s string) (a, b float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two comma-separated numbers, got %q", s)
	}
	if a, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("parsing %q: %w", s, err)
	}
	if b, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("parsing %q: %w", s, err)
	}
	return a, b, nil
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) error {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagImagery != "" {
		cfg.Sources.Imagery = *flagImagery
	}
	if *flagElevation != "" {
		cfg.Sources.Elevation = *flagElevation
	}
	if *flagCenter != "" {
		lon, lat, err := ParsePair(*flagCenter)
		if err != nil {
			return fmt.Errorf("-center: %w", err)
		}
		cfg.Terrain.Center = Location{Lon: lon, Lat: lat}
	}
	if *flagZoom > 0 {
		cfg.Terrain.Zoom = *flagZoom
	}
	if *flagGPU {
		cfg.HeightBuffer.GPU = true
	}
	if *flagMetricsAddr != "" {
		cfg.Metrics.Addr = *flagMetricsAddr
	}
	return nil
}
