// Package geo provides the coordinate value types shared by the terrain engine:
// geographic points and bounds, raster pixels and world-space positions.
package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point is a geographic coordinate in degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Pixel is a raster coordinate with the origin at the top-left corner
// and y increasing downward.
type Pixel struct {
	X float64
	Y float64
}

// World is a position in terrain world space. The origin is the footprint
// center, X grows east, Y grows north and Z is the displaced height.
type World struct {
	X float64
	Y float64
	Z float64
}

// Footprint is the terrain size in world units.
type Footprint struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Valid reports whether both dimensions are positive.
func (f Footprint) Valid() bool {
	return f.Width > 0 && f.Height > 0
}

// Orb converts the point to an orb.Point (lon, lat order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb.Point to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lon: p.Lon(), Lat: p.Lat()}
}

// String implements fmt.Stringer.
func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lon, p.Lat)
}

// DistanceTo returns the haversine distance to q in meters.
func (p Point) DistanceTo(q Point) float64 {
	return orbgeo.DistanceHaversine(p.Orb(), q.Orb())
}

// Bounds is an axis-aligned geographic rectangle.
type Bounds struct {
	West  float64
	South float64
	East  float64
	North float64
}

// NewBounds builds bounds from the south-west and north-east corners.
func NewBounds(sw, ne Point) (Bounds, error) {
	b := Bounds{West: sw.Lon, South: sw.Lat, East: ne.Lon, North: ne.Lat}
	if !b.Valid() {
		return Bounds{}, fmt.Errorf("invalid bounds %v..%v: west must be < east and south < north", sw, ne)
	}
	return b, nil
}

// Valid reports whether west < east and south < north.
func (b Bounds) Valid() bool {
	return b.West < b.East && b.South < b.North
}

// Contains reports whether p lies inside the bounds, edges included.
func (b Bounds) Contains(p Point) bool {
	return b.Orb().Contains(p.Orb())
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() Point {
	return FromOrb(b.Orb().Center())
}

// Orb converts the bounds to an orb.Bound.
func (b Bounds) Orb() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// String implements fmt.Stringer.
func (b Bounds) String() string {
	return fmt.Sprintf("[W %.6f S %.6f E %.6f N %.6f]", b.West, b.South, b.East, b.North)
}
