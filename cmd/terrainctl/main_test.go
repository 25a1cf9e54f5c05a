package main

import (
	"strings"
	"testing"

	"github.com/Faultbox/geoterrain/internal/config"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

func TestTerrainOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Terrain.PixelsPerWorldUnit = config.Ratio{X: 25.6, Y: 12.8}
	cfg.HeightBuffer.Channel = 1

	opts := terrainOptions(cfg, nil)
	if opts.PixelsPerWorldUnitX != 25.6 || opts.PixelsPerWorldUnitY != 12.8 {
		t.Errorf("expected ratios 25.6/12.8, got %v/%v", opts.PixelsPerWorldUnitX, opts.PixelsPerWorldUnitY)
	}
	if opts.Footprint != (geo.Footprint{Width: 10, Height: 10}) {
		t.Errorf("expected 10x10 footprint, got %+v", opts.Footprint)
	}
	if opts.Heights.Channel != 1 {
		t.Errorf("expected channel 1, got %d", opts.Heights.Channel)
	}
	if !opts.UseBuffer || !opts.UseHeightmap {
		t.Error("expected buffer and heightmap flags carried over")
	}
	if opts.LODCount != 4 || len(opts.LODThresholds) != 3 {
		t.Errorf("expected 4 levels with 3 thresholds, got %d %v", opts.LODCount, opts.LODThresholds)
	}
}

func TestPreviewPixel(t *testing.T) {
	fp := config.Size{Width: 10, Height: 5}

	tests := []struct {
		name string
		in   geo.World
		want geo.Pixel
	}{
		{name: "center", in: geo.World{}, want: geo.Pixel{X: 100, Y: 50}},
		{name: "north west", in: geo.World{X: -5, Y: 2.5}, want: geo.Pixel{X: 0, Y: 0}},
		{name: "south east", in: geo.World{X: 5, Y: -2.5}, want: geo.Pixel{X: 200, Y: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := previewPixel(tt.in, fp, 200, 100); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestRunNeedsSources(t *testing.T) {
	cfg := config.Default()
	if err := run(cfg, nil, nil); err == nil || !strings.Contains(err.Error(), "imagery") {
		t.Errorf("expected missing imagery error, got %v", err)
	}

	cfg.Sources.Imagery = t.TempDir()
	if err := run(cfg, nil, nil); err == nil || !strings.Contains(err.Error(), "elevation") {
		t.Errorf("expected missing elevation error, got %v", err)
	}
}
