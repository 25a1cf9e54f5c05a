// Package elevation summarizes elevation frames.
package elevation

import (
	"github.com/Faultbox/geoterrain/internal/engine/raster"
)

// DefaultRangeMeters is the altitude an 8-bit value of 255 encodes.
const DefaultRangeMeters = 8900

// Stats describes the non-transparent pixels of an elevation frame.
type Stats struct {
	Min       uint8
	Max       uint8
	Count     int
	Histogram [256]int

	// RangeMeters is the altitude of the full 0..255 span.
	RangeMeters float64

	// Addition shifts every altitude so the highest pixel lands on a known
	// summit height. Zero when no summit was given.
	Addition float64
}

// Analyze scans frame, reading elevation from channel (0..3). Pixels with zero
// alpha carry no data and are skipped. When highestMeters is non-zero the
// result is offset so Max maps to it.
func Analyze(frame *raster.Frame, channel int, rangeMeters, highestMeters float64) Stats {
	if rangeMeters <= 0 {
		rangeMeters = DefaultRangeMeters
	}
	s := Stats{Min: 255, RangeMeters: rangeMeters}

	pix := frame.Pix
	w, h := frame.Size()
	for y := 0; y < h; y++ {
		row := pix.Pix[y*pix.Stride : y*pix.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			if row[i+3] == 0 {
				continue
			}
			v := row[i+channel]
			s.Histogram[v]++
			s.Count++
			s.Min = min(s.Min, v)
			s.Max = max(s.Max, v)
		}
	}

	if s.Empty() {
		s.Min = 0
		return s
	}
	if highestMeters != 0 {
		s.Addition = highestMeters - s.Raw(s.Max)
	}
	return s
}

// Empty reports whether the frame had no data pixels.
func (s Stats) Empty() bool {
	return s.Count == 0
}

// Raw converts an 8-bit value to meters without the summit offset.
func (s Stats) Raw(v uint8) float64 {
	return float64(v) / 255 * s.RangeMeters
}

// Meters converts a normalized sample in [0, 1] to an altitude.
func (s Stats) Meters(normalized float64) float64 {
	return normalized*s.RangeMeters + s.Addition
}

// MinMeters returns the lowest altitude in the frame.
func (s Stats) MinMeters() float64 {
	return s.Raw(s.Min) + s.Addition
}

// MaxMeters returns the highest altitude in the frame.
func (s Stats) MaxMeters() float64 {
	return s.Raw(s.Max) + s.Addition
}

// Mode returns the most frequent value. Ties resolve to the lower value.
func (s Stats) Mode() uint8 {
	var best uint8
	for v := 1; v < len(s.Histogram); v++ {
		if s.Histogram[v] > s.Histogram[best] {
			best = uint8(v)
		}
	}
	return best
}
