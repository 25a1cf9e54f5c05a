package raster

import (
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// BoundsProjection maps geographic bounds linearly onto a pixel rectangle.
// It serves pre-rendered (static) rasters whose corners are known.
type BoundsProjection struct {
	Area   geo.Bounds
	Width  int
	Height int
}

// GeoToPixel implements Projection.
func (p BoundsProjection) GeoToPixel(pt geo.Point) geo.Pixel {
	return geo.Pixel{
		X: (pt.Lon - p.Area.West) / (p.Area.East - p.Area.West) * float64(p.Width),
		Y: (p.Area.North - pt.Lat) / (p.Area.North - p.Area.South) * float64(p.Height),
	}
}

// PixelToGeo implements Projection.
func (p BoundsProjection) PixelToGeo(px geo.Pixel) geo.Point {
	return geo.Point{
		Lon: p.Area.West + px.X/float64(p.Width)*(p.Area.East-p.Area.West),
		Lat: p.Area.North - px.Y/float64(p.Height)*(p.Area.North-p.Area.South),
	}
}

// Bounds implements Projection.
func (p BoundsProjection) Bounds() geo.Bounds {
	return p.Area
}
