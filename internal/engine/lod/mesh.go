// Package lod builds multi-resolution plane geometry and tracks the active
// draw range. Every level lives in one merged vertex/index buffer, so
// switching level only changes the range handed to the draw call.
package lod

import (
	"errors"
	"fmt"

	"github.com/Faultbox/geoterrain/pkg/geo"
)

// DefaultFactor controls how fast segment counts fall off with level.
const DefaultFactor = 2

var (
	// ErrInvalidGeometry is returned for non-positive footprints, segment
	// counts, level counts or factors.
	ErrInvalidGeometry = errors.New("lod: invalid geometry")

	// ErrUnknownLevel is returned when a level is not in the table.
	ErrUnknownLevel = errors.New("lod: unknown level")
)

// Vertex is a plane vertex. Displacement is applied by the material, so
// Position.Z is always zero.
type Vertex struct {
	Position [3]float32
	TexCoord [2]float32
}

// Range is one level's slice of the merged buffers.
type Range struct {
	Level      int
	Start      int // first vertex
	Count      int // vertex count
	IndexStart int
	IndexCount int
	SegmentsX  int
	SegmentsY  int
}

// Mesh holds every level of the plane, finest first.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
	Table    []Range
}

// Level returns the range recorded for level.
func (m *Mesh) Level(level int) (Range, error) {
	if level < 1 || level > len(m.Table) {
		return Range{}, fmt.Errorf("level %d of %d: %w", level, len(m.Table), ErrUnknownLevel)
	}
	return m.Table[level-1], nil
}

// Segments returns the per-axis segment count of level. Level 1 keeps the
// full count; level i divides it by 1+(i-1)*(factor-1), never dropping
// below one segment.
func Segments(segments, level, factor int) int {
	div := 1 + (level-1)*(factor-1)
	return max(segments/div, 1)
}

// Build creates levels plane geometries of the footprint and merges them.
func Build(fp geo.Footprint, segmentsX, segmentsY, levels, factor int) (*Mesh, error) {
	switch {
	case !fp.Valid():
		return nil, fmt.Errorf("footprint %vx%v: %w", fp.Width, fp.Height, ErrInvalidGeometry)
	case segmentsX < 1 || segmentsY < 1:
		return nil, fmt.Errorf("segments %dx%d: %w", segmentsX, segmentsY, ErrInvalidGeometry)
	case levels < 1:
		return nil, fmt.Errorf("level count %d: %w", levels, ErrInvalidGeometry)
	case factor < 1 || (levels > 1 && factor < 2):
		// Factor 1 would repeat the finest level.
		return nil, fmt.Errorf("lod factor %d for %d levels: %w", factor, levels, ErrInvalidGeometry)
	}

	m := &Mesh{Table: make([]Range, 0, levels)}
	for level := 1; level <= levels; level++ {
		sx := Segments(segmentsX, level, factor)
		sy := Segments(segmentsY, level, factor)

		r := Range{
			Level:      level,
			Start:      len(m.Vertices),
			IndexStart: len(m.Indices),
			SegmentsX:  sx,
			SegmentsY:  sy,
		}
		m.appendPlane(fp, sx, sy)
		r.Count = len(m.Vertices) - r.Start
		r.IndexCount = len(m.Indices) - r.IndexStart
		m.Table = append(m.Table, r)
	}
	return m, nil
}

// appendPlane adds a sx by sy grid centered on the origin. Rows run from
// the top edge (+Y) down; texture V follows image rows.
func (m *Mesh) appendPlane(fp geo.Footprint, sx, sy int) {
	base := uint32(len(m.Vertices))
	cols := sx + 1

	for iy := 0; iy <= sy; iy++ {
		v := float64(iy) / float64(sy)
		y := fp.Height/2 - v*fp.Height
		for ix := 0; ix <= sx; ix++ {
			u := float64(ix) / float64(sx)
			x := u*fp.Width - fp.Width/2
			m.Vertices = append(m.Vertices, Vertex{
				Position: [3]float32{float32(x), float32(y), 0},
				TexCoord: [2]float32{float32(u), float32(v)},
			})
		}
	}

	for iy := 0; iy < sy; iy++ {
		for ix := 0; ix < sx; ix++ {
			a := base + uint32(iy*cols+ix)
			b := base + uint32((iy+1)*cols+ix)
			c := b + 1
			d := a + 1
			m.Indices = append(m.Indices, a, b, d, b, c, d)
		}
	}
}
