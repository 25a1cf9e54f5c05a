// Package picking casts rays against the displaced terrain surface.
package picking

import (
	"errors"
	gomath "math"

	"github.com/Faultbox/geoterrain/pkg/geo"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Surface returns the displaced terrain height at world x/y.
type Surface func(x, y float64) (float64, error)

// Ray represents a ray in world space with origin and direction.
type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3 // Normalized direction
}

// NewRay builds a ray from origin toward target.
func NewRay(origin, target math.Vec3) (Ray, error) {
	dir := target.Sub(origin)
	l := dir.Length()
	if l == 0 {
		return Ray{}, errors.New("picking: ray target equals origin")
	}
	return Ray{Origin: origin, Direction: dir.Scale(1 / l)}, nil
}

// At returns the point t units along the ray.
func (r Ray) At(t float64) math.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// refineSteps bounds the bisection once a crossing is bracketed.
const refineSteps = 24

// Cast marches along r in step increments up to maxDist and returns the
// first point at or below the surface. ok is false when nothing is hit.
func Cast(r Ray, surface Surface, maxDist, step float64) (geo.World, bool, error) {
	if step <= 0 || maxDist <= 0 {
		return geo.World{}, false, errors.New("picking: step and distance must be positive")
	}

	above := func(t float64) (bool, error) {
		p := r.At(t)
		z, err := surface(p.X, p.Y)
		if err != nil {
			return false, err
		}
		return p.Z > z, nil
	}

	start, err := above(0)
	if err != nil {
		return geo.World{}, false, err
	}
	if !start {
		p := r.Origin
		return geo.World{X: p.X, Y: p.Y, Z: p.Z}, true, nil
	}

	prev := 0.0
	for t := step; t <= maxDist+step/2; t += step {
		t = gomath.Min(t, maxDist)
		up, err := above(t)
		if err != nil {
			return geo.World{}, false, err
		}
		if !up {
			lo, hi := prev, t
			for i := 0; i < refineSteps; i++ {
				mid := (lo + hi) / 2
				if up, err = above(mid); err != nil {
					return geo.World{}, false, err
				}
				if up {
					lo = mid
				} else {
					hi = mid
				}
			}
			p := r.At(hi)
			return geo.World{X: p.X, Y: p.Y, Z: p.Z}, true, nil
		}
		prev = t
		if t == maxDist {
			break
		}
	}
	return geo.World{}, false, nil
}

// Clamp drops a point onto the surface, offset above it.
func Clamp(x, y float64, surface Surface, offset float64) (geo.World, error) {
	z, err := surface(x, y)
	if err != nil {
		return geo.World{}, err
	}
	return geo.World{X: x, Y: y, Z: z + offset}, nil
}
