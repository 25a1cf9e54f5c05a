// Package mercator implements the Web Mercator viewport used by tile
// renderers: a center and fractional zoom framed by a pixel rectangle.
package mercator

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/Faultbox/geoterrain/pkg/geo"
)

const (
	// TileSize is the edge of one XYZ tile in pixels.
	TileSize = 256

	// MaxTextureSize caps power-of-two snapping.
	MaxTextureSize = 4096

	// MaxLatitude is the latitude where the mercator square ends.
	MaxLatitude = 85.05112877980659
)

var circumference = 2 * math.Pi * orb.EarthRadius

// Viewport frames a center and zoom in a Width x Height canvas.
// It implements raster.Projection.
type Viewport struct {
	Center geo.Point
	Zoom   float64
	Width  int
	Height int
}

// WorldSize returns the pixel edge of the whole world at the viewport zoom.
func (v Viewport) WorldSize() float64 {
	return TileSize * math.Exp2(v.Zoom)
}

// World returns pt in global pixel coordinates at the viewport zoom.
func (v Viewport) World(pt geo.Point) geo.Pixel {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, pt.Lat))
	m := project.Point(orb.Point{pt.Lon, lat}, project.WGS84.ToMercator)

	size := v.WorldSize()
	return geo.Pixel{
		X: (m[0]/circumference + 0.5) * size,
		Y: (0.5 - m[1]/circumference) * size,
	}
}

// FromWorld is the inverse of World.
func (v Viewport) FromWorld(px geo.Pixel) geo.Point {
	size := v.WorldSize()
	m := orb.Point{
		(px.X/size - 0.5) * circumference,
		(0.5 - px.Y/size) * circumference,
	}
	return geo.FromOrb(project.Point(m, project.Mercator.ToWGS84))
}

// Origin returns the global pixel coordinate of the canvas top-left corner.
func (v Viewport) Origin() geo.Pixel {
	c := v.World(v.Center)
	return geo.Pixel{X: c.X - float64(v.Width)/2, Y: c.Y - float64(v.Height)/2}
}

// GeoToPixel implements raster.Projection.
func (v Viewport) GeoToPixel(pt geo.Point) geo.Pixel {
	w, o := v.World(pt), v.Origin()
	return geo.Pixel{X: w.X - o.X, Y: w.Y - o.Y}
}

// PixelToGeo implements raster.Projection.
func (v Viewport) PixelToGeo(px geo.Pixel) geo.Point {
	o := v.Origin()
	return v.FromWorld(geo.Pixel{X: px.X + o.X, Y: px.Y + o.Y})
}

// Bounds implements raster.Projection.
func (v Viewport) Bounds() geo.Bounds {
	sw := v.PixelToGeo(geo.Pixel{X: 0, Y: float64(v.Height)})
	ne := v.PixelToGeo(geo.Pixel{X: float64(v.Width), Y: 0})
	return geo.Bounds{West: sw.Lon, South: sw.Lat, East: ne.Lon, North: ne.Lat}
}

// MetersPerPixel returns the ground resolution at the viewport center.
func (v Viewport) MetersPerPixel() float64 {
	return circumference * math.Cos(v.Center.Lat*math.Pi/180) / v.WorldSize()
}

// Snapped returns the viewport with each axis rounded up to a power of two.
// The center and zoom are kept, so the snapped canvas shows more ground.
func (v Viewport) Snapped() Viewport {
	v.Width = NextPowerOfTwo(v.Width)
	v.Height = NextPowerOfTwo(v.Height)
	return v
}

// NextPowerOfTwo rounds n up to a power of two, capped at MaxTextureSize.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n && p < MaxTextureSize {
		p <<= 1
	}
	return p
}
