package tiles

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/internal/engine/raster/mercator"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// labelled paints each tile with alpha derived from its address.
var labelled = SourceFunc(func(_ context.Context, t maptile.Tile) (image.Image, error) {
	img := image.NewNRGBA(image.Rect(0, 0, mercator.TileSize, mercator.TileSize))
	c := color.NRGBA{R: uint8(t.Z), A: uint8(100 + t.X*10 + t.Y)}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = c.R, c.A
	}
	return img, nil
})

type outcome struct {
	frame *raster.Frame
	proj  raster.Projection
	err   error
}

func render(t *testing.T, r raster.Renderer, view raster.View) outcome {
	t.Helper()
	ch := make(chan outcome, 1)
	r.Render(view, func(f *raster.Frame, p raster.Projection, err error) {
		ch <- outcome{f, p, err}
	})
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for view complete")
		return outcome{}
	}
}

func TestCover(t *testing.T) {
	tests := []struct {
		name  string
		vp    mercator.Viewport
		tiles []maptile.Tile
	}{
		{
			name: "whole world at zoom 1",
			vp:   mercator.Viewport{Zoom: 1, Width: 512, Height: 512},
			tiles: []maptile.Tile{
				maptile.New(0, 0, 1), maptile.New(1, 0, 1),
				maptile.New(0, 1, 1), maptile.New(1, 1, 1),
			},
		},
		{
			name:  "wraps the antimeridian",
			vp:    mercator.Viewport{Center: geo.Point{Lon: 180}, Zoom: 1, Width: 256, Height: 256},
			tiles: []maptile.Tile{maptile.New(1, 0, 1), maptile.New(0, 0, 1), maptile.New(1, 1, 1), maptile.New(0, 1, 1)},
		},
		{
			name:  "fractional zoom uses the floor level",
			vp:    mercator.Viewport{Zoom: 0.5, Width: 100, Height: 100},
			tiles: []maptile.Tile{maptile.New(0, 0, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cover(tt.vp, 20)
			if len(got) != len(tt.tiles) {
				t.Fatalf("expected %d tiles, got %d", len(tt.tiles), len(got))
			}
			for i, p := range got {
				if p.Tile != tt.tiles[i] {
					t.Errorf("tile %d: expected %v, got %v", i, tt.tiles[i], p.Tile)
				}
			}
		})
	}
}

func TestCoverClampsMaxZoom(t *testing.T) {
	got := Cover(mercator.Viewport{Zoom: 5, Width: 10, Height: 10}, 3)
	for _, p := range got {
		if p.Tile.Z != 3 {
			t.Errorf("expected zoom 3, got %d", p.Tile.Z)
		}
	}
}

func TestRenderComposesTiles(t *testing.T) {
	f := NewFactory(map[string]Source{"elevation": labelled}, Options{})
	r, err := f.NewRenderer(raster.Spec{Content: "elevation", Width: 512, Height: 512, WorldUnitsPerPixel: 0.1})
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	defer r.Close()

	o := render(t, r, raster.View{Zoom: 1})
	if o.err != nil {
		t.Fatalf("render failed: %v", o.err)
	}

	tests := []struct {
		x, y int
		want uint8
	}{
		{10, 10, 100},
		{300, 10, 110},
		{10, 300, 101},
		{500, 500, 111},
	}
	for _, tt := range tests {
		if got := o.frame.Channel(tt.x, tt.y, 3); got != tt.want {
			t.Errorf("pixel (%d,%d): expected alpha %d, got %d", tt.x, tt.y, tt.want, got)
		}
	}

	px := o.proj.GeoToPixel(geo.Point{})
	if math.Abs(px.X-256) > 1e-6 || math.Abs(px.Y-256) > 1e-6 {
		t.Errorf("expected null island at canvas center, got %+v", px)
	}
}

func TestRenderLeavesMissingTilesTransparent(t *testing.T) {
	sparse := SourceFunc(func(ctx context.Context, tile maptile.Tile) (image.Image, error) {
		if tile.X == 1 {
			return nil, ErrTileNotFound
		}
		return labelled(ctx, tile)
	})
	f := NewFactory(map[string]Source{"imagery": sparse}, Options{})
	r, _ := f.NewRenderer(raster.Spec{Content: "imagery", Width: 512, Height: 256})

	o := render(t, r, raster.View{Zoom: 1})
	if o.err != nil {
		t.Fatalf("render failed: %v", o.err)
	}
	if got := o.frame.Channel(400, 100, 3); got != 0 {
		t.Errorf("expected transparent missing tile, got alpha %d", got)
	}
	if got := o.frame.Channel(100, 100, 3); got != 100 {
		t.Errorf("expected alpha 100, got %d", got)
	}
}

func TestRenderPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	f := NewFactory(map[string]Source{"imagery": SourceFunc(func(context.Context, maptile.Tile) (image.Image, error) {
		return nil, boom
	})}, Options{})
	r, _ := f.NewRenderer(raster.Spec{Content: "imagery", Width: 64, Height: 64})

	if o := render(t, r, raster.View{Zoom: 3}); !errors.Is(o.err, boom) {
		t.Errorf("expected source error, got %v", o.err)
	}
}

func TestRenderPowerOfTwo(t *testing.T) {
	f := NewFactory(map[string]Source{"elevation": labelled}, Options{PowerOfTwo: true})
	r, _ := f.NewRenderer(raster.Spec{Content: "elevation", Width: 300, Height: 200, WorldUnitsPerPixel: 1})

	o := render(t, r, raster.View{Zoom: 2})
	if o.err != nil {
		t.Fatalf("render failed: %v", o.err)
	}
	if o.frame.Width() != 512 || o.frame.Height() != 256 {
		t.Errorf("expected 512x256, got %dx%d", o.frame.Width(), o.frame.Height())
	}
}

func TestRendererLifecycle(t *testing.T) {
	f := NewFactory(map[string]Source{"imagery": labelled}, Options{})

	if _, err := f.NewRenderer(raster.Spec{Content: "hillshade", Width: 1, Height: 1}); err == nil {
		t.Error("expected error for unknown content")
	}

	r, _ := f.NewRenderer(raster.Spec{Content: "imagery", Width: 64, Height: 64})
	tr := r.(*Renderer)

	if err := tr.Reconfigure(raster.Spec{Content: "elevation", Width: 64, Height: 64}); err == nil {
		t.Error("expected error when switching content")
	}
	if err := tr.Reconfigure(raster.Spec{Content: "imagery", Width: 32, Height: 16}); err != nil {
		t.Fatalf("reconfigure failed: %v", err)
	}
	if vp := tr.Viewport(raster.View{}); vp.Width != 32 || vp.Height != 16 {
		t.Errorf("expected 32x16 viewport, got %dx%d", vp.Width, vp.Height)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if o := render(t, r, raster.View{}); !errors.Is(o.err, ErrRendererClosed) {
		t.Errorf("expected ErrRendererClosed, got %v", o.err)
	}
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	src := DirSource{Root: root, Ext: "png"}
	tile := maptile.New(3, 5, 4)

	path := src.Path(tile)
	if want := filepath.Join(root, "4", "3", "5.png"); path != want {
		t.Errorf("expected %s, got %s", want, path)
	}

	if _, err := src.Tile(context.Background(), tile); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("expected ErrTileNotFound, got %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 1, G: 2, B: 3, A: 4})
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := src.Tile(context.Background(), tile)
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if got.Bounds().Dx() != 4 {
		t.Errorf("expected 4px tile, got %d", got.Bounds().Dx())
	}
	if _, _, _, a := got.At(1, 1).RGBA(); a>>8 != 4 {
		t.Errorf("expected alpha 4, got %d", a>>8)
	}
}

func TestTileAt(t *testing.T) {
	if got := TileAt(geo.Point{Lon: 1, Lat: 1}, 1); got != maptile.New(1, 0, 1) {
		t.Errorf("expected 1/1/0, got %v", got)
	}
}
