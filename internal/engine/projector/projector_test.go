package projector

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/Faultbox/geoterrain/internal/engine/heightbuf"
	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

var area = geo.Bounds{West: 7, South: 45, East: 8, North: 46}

func newProjector(t *testing.T, opts Options) *Projector {
	t.Helper()
	if opts.Footprint == (geo.Footprint{}) {
		opts.Footprint = geo.Footprint{Width: 10, Height: 10}
	}
	if opts.PixelsPerWorldUnitX == 0 {
		opts.PixelsPerWorldUnitX, opts.PixelsPerWorldUnitY = 10, 10
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func heightBuffer(t *testing.T, w, h int, fill func(x, y int) uint8) *heightbuf.Buffer {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: fill(x, y)})
		}
	}
	b, err := heightbuf.NewBuilder(heightbuf.Options{Channel: heightbuf.ChannelAlpha})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	buf, err := b.Build(&raster.Frame{Pix: img, WorldUnitsPerPixel: 0.1})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := buf.Render(); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf
}

func TestNewValidates(t *testing.T) {
	bad := area
	bad.East = 6

	tests := []struct {
		name string
		opts Options
	}{
		{"zero footprint", Options{PixelsPerWorldUnitX: 1, PixelsPerWorldUnitY: 1}},
		{"zero ratio", Options{Footprint: geo.Footprint{Width: 1, Height: 1}, PixelsPerWorldUnitX: 1}},
		{"inverted bounds", Options{Footprint: geo.Footprint{Width: 1, Height: 1}, PixelsPerWorldUnitX: 1, PixelsPerWorldUnitY: 1, Bounds: &bad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProjectCenterPixel(t *testing.T) {
	p := newProjector(t, Options{DisplacementScale: 30})
	if err := p.Bind(raster.BoundsProjection{Area: area, Width: 100, Height: 100}, 100, 100); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	p.SetHeights(heightBuffer(t, 100, 100, func(int, int) uint8 { return 128 }), nil)

	w, ok, err := p.Project(geo.Point{Lon: 7.5, Lat: 45.5})
	if err != nil || !ok {
		t.Fatalf("Project failed: ok=%v err=%v", ok, err)
	}
	if math.Abs(w.X) > 1e-9 || math.Abs(w.Y) > 1e-9 {
		t.Errorf("expected footprint center, got (%f,%f)", w.X, w.Y)
	}
	if math.Abs(w.Z-15.06) > 0.01 {
		t.Errorf("expected z ~15.06, got %f", w.Z)
	}
}

func TestProjectAxes(t *testing.T) {
	p := newProjector(t, Options{})
	p.Bind(raster.BoundsProjection{Area: area, Width: 100, Height: 100}, 100, 100)

	// North-west corner is pixel (0,0): left and up in world space.
	w, _, _ := p.Project(geo.Point{Lon: 7, Lat: 46})
	if math.Abs(w.X+5) > 1e-9 || math.Abs(w.Y-5) > 1e-9 {
		t.Errorf("expected (-5,5), got (%f,%f)", w.X, w.Y)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
	}{
		{"square", 100, 100},
		{"power of two snapped", 512, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProjector(t, Options{})
			p.Bind(raster.BoundsProjection{Area: area, Width: tt.width, Height: tt.height}, tt.width, tt.height)

			for _, pt := range []geo.Point{{Lon: 7.1, Lat: 45.9}, {Lon: 7.77, Lat: 45.01}, {Lon: 7.5, Lat: 45.5}} {
				w, ok, _ := p.Project(pt)
				if !ok {
					t.Fatalf("expected %v in range", pt)
				}
				back, ok := p.Unproject(w.X, w.Y)
				if !ok {
					t.Fatalf("expected unproject of %v to succeed", w)
				}
				if math.Abs(back.Lon-pt.Lon) > 1e-6*math.Abs(pt.Lon) || math.Abs(back.Lat-pt.Lat) > 1e-6*math.Abs(pt.Lat) {
					t.Errorf("expected %v, got %v", pt, back)
				}
			}
		})
	}
}

func TestBindDerivesPerAxisRatios(t *testing.T) {
	p := newProjector(t, Options{})
	p.Bind(raster.BoundsProjection{Area: area, Width: 512, Height: 128}, 512, 128)

	corner, ok := p.Unproject(5, -5)
	if !ok {
		t.Fatal("expected bottom-right corner in range")
	}
	if math.Abs(corner.Lon-8) > 1e-9 || math.Abs(corner.Lat-45) > 1e-9 {
		t.Errorf("expected south-east corner, got %+v", corner)
	}

	w, ok, _ := p.Project(geo.Point{Lon: 7.5, Lat: 45.75})
	if !ok {
		t.Fatal("expected point in range")
	}
	if math.Abs(w.X) > 1e-9 || math.Abs(w.Y-2.5) > 1e-9 {
		t.Errorf("expected world (0, 2.5), got %+v", w)
	}
}

func TestStaticBounds(t *testing.T) {
	p := newProjector(t, Options{Bounds: &area})
	p.Bind(raster.BoundsProjection{Area: area, Width: 100, Height: 100}, 100, 100)

	if _, ok, err := p.Project(geo.Point{Lon: 9, Lat: 45.5}); ok || err != nil {
		t.Errorf("expected out of range without error, got ok=%v err=%v", ok, err)
	}
	if _, ok := p.Unproject(20, 0); ok {
		t.Error("expected unproject outside the footprint to be out of range")
	}
	if _, ok := p.Unproject(1, 1); !ok {
		t.Error("expected unproject inside the footprint to succeed")
	}
	if b, ok := p.Bounds(); !ok || b != area {
		t.Errorf("expected static bounds, got %v", b)
	}
}

func TestUnboundProjector(t *testing.T) {
	p := newProjector(t, Options{})

	if _, _, err := p.Project(geo.Point{}); !errors.Is(err, ErrUnbound) {
		t.Errorf("expected ErrUnbound, got %v", err)
	}
	if _, ok := p.Unproject(0, 0); ok {
		t.Error("expected unbound unproject to fail")
	}
	if _, err := p.Height(0, 0); !errors.Is(err, ErrUnbound) {
		t.Errorf("expected ErrUnbound from Height, got %v", err)
	}
}

func TestHeightWithoutBuffer(t *testing.T) {
	p := newProjector(t, Options{DisplacementScale: 30, DisplacementBias: 2})
	p.Bind(raster.BoundsProjection{Area: area, Width: 100, Height: 100}, 100, 100)
	p.SetHeights(nil, heightbuf.ErrNotRendered)

	w, ok, err := p.Project(geo.Point{Lon: 7.5, Lat: 45.5})
	if !ok || !errors.Is(err, heightbuf.ErrNotRendered) {
		t.Fatalf("expected point with ErrNotRendered, got ok=%v err=%v", ok, err)
	}
	if w.Z != 2 {
		t.Errorf("expected bias-only z, got %f", w.Z)
	}
	if h, err := p.Height(0, 0); h != 0 || !errors.Is(err, heightbuf.ErrNotRendered) {
		t.Errorf("expected 0 and ErrNotRendered, got %f %v", h, err)
	}
}

func TestHeightRescalesToBuffer(t *testing.T) {
	p := newProjector(t, Options{RangeMeters: 8900})
	p.Bind(raster.BoundsProjection{Area: area, Width: 100, Height: 100}, 100, 100)
	// Half-resolution elevation: texel (x,y) covers imagery pixels 2x..2x+1.
	p.SetHeights(heightBuffer(t, 50, 50, func(x, y int) uint8 { return uint8(x + y) }), nil)

	// World (-5,5) is imagery pixel (0,0); world (0,0) is (50,50) -> texel (25,25).
	tests := []struct {
		x, y float64
		want uint8
	}{
		{-5, 5, 0},
		{0, 0, 50},
		{5, -5, 98},
	}
	for _, tt := range tests {
		h, err := p.Height(tt.x, tt.y)
		if err != nil {
			t.Fatalf("Height failed: %v", err)
		}
		if want := float64(tt.want) / 255; math.Abs(h-want) > 1e-12 {
			t.Errorf("Height(%v,%v): expected %f, got %f", tt.x, tt.y, want, h)
		}
	}

	m, _ := p.HeightInMeters(0, 0)
	if want := 50.0 / 255 * 8900; math.Abs(m-want) > 1e-9 {
		t.Errorf("expected %f m, got %f", want, m)
	}
}
