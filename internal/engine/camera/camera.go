// Package camera provides the orbit camera whose distance to the terrain
// drives LOD selection.
package camera

import (
	gomath "math"

	"github.com/Faultbox/geoterrain/pkg/geo"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Orbit circles a point on the terrain. World space is z-up: the terrain
// plane spans x/y and displacement grows along z.
type Orbit struct {
	Center geo.World

	Distance float64
	Pitch    float64 // Elevation above the x/y plane, radians
	Yaw      float64 // Rotation around z, radians

	MinDistance float64
	MaxDistance float64
	MinPitch    float64
	MaxPitch    float64

	ZoomSensitivity float64
}

// NewOrbit creates an orbit camera looking down at center.
func NewOrbit(center geo.World) *Orbit {
	return &Orbit{
		Center:          center,
		Distance:        25,
		Pitch:           0.8,
		MinDistance:     1,
		MaxDistance:     500,
		MinPitch:        0.1,
		MaxPitch:        gomath.Pi / 2,
		ZoomSensitivity: 0.1,
	}
}

// Position returns the camera position in world space.
func (c *Orbit) Position() math.Vec3 {
	horiz := c.Distance * gomath.Cos(c.Pitch)
	return math.Vec3{
		X: c.Center.X + horiz*gomath.Sin(c.Yaw),
		Y: c.Center.Y - horiz*gomath.Cos(c.Yaw),
		Z: c.Center.Z + c.Distance*gomath.Sin(c.Pitch),
	}
}

// DistanceTo returns the distance from the camera to a world point.
func (c *Orbit) DistanceTo(w geo.World) float64 {
	return c.Position().Distance(math.Vec3{X: w.X, Y: w.Y, Z: w.Z})
}

// Zoom moves the camera toward the center for positive delta.
func (c *Orbit) Zoom(delta float64) {
	c.Distance -= delta * c.Distance * c.ZoomSensitivity
	c.Distance = clamp(c.Distance, c.MinDistance, c.MaxDistance)
}

// Rotate turns the camera around the center.
func (c *Orbit) Rotate(dYaw, dPitch float64) {
	c.Yaw += dYaw
	c.Pitch = clamp(c.Pitch+dPitch, c.MinPitch, c.MaxPitch)
}

// FitToFootprint backs off until the whole footprint is in view.
func (c *Orbit) FitToFootprint(fp geo.Footprint) {
	c.Distance = clamp(gomath.Max(fp.Width, fp.Height)*1.5, c.MinDistance, c.MaxDistance)
}

func clamp(v, lo, hi float64) float64 {
	return gomath.Min(gomath.Max(v, lo), hi)
}
