package geo

import (
	"math"
	"testing"
)

func TestNewBoundsRejectsInverted(t *testing.T) {
	tests := []struct {
		name string
		sw   Point
		ne   Point
		ok   bool
	}{
		{"valid", Point{Lon: 10, Lat: 45}, Point{Lon: 11, Lat: 46}, true},
		{"west equals east", Point{Lon: 10, Lat: 45}, Point{Lon: 10, Lat: 46}, false},
		{"south above north", Point{Lon: 10, Lat: 47}, Point{Lon: 11, Lat: 46}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBounds(tt.sw, tt.ne)
			if tt.ok && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error for invalid bounds")
			}
		})
	}
}

func TestBoundsContains(t *testing.T) {
	b, err := NewBounds(Point{Lon: 10, Lat: 45}, Point{Lon: 11, Lat: 46})
	if err != nil {
		t.Fatalf("NewBounds failed: %v", err)
	}

	if !b.Contains(Point{Lon: 10.5, Lat: 45.5}) {
		t.Error("expected center to be contained")
	}
	if !b.Contains(Point{Lon: 10, Lat: 45}) {
		t.Error("expected corner to be contained")
	}
	if b.Contains(Point{Lon: 9.99, Lat: 45.5}) {
		t.Error("expected point west of bounds to be outside")
	}

	c := b.Center()
	if c.Lon != 10.5 || c.Lat != 45.5 {
		t.Errorf("expected center (10.5, 45.5), got %v", c)
	}
}

func TestDistanceTo(t *testing.T) {
	// One degree of latitude is about 111 km depending on the sphere radius.
	d := Point{Lon: 0, Lat: 0}.DistanceTo(Point{Lon: 0, Lat: 1})
	if d < 111000 || d > 111400 {
		t.Errorf("expected ~111 km, got %f", d)
	}
	if math.IsNaN(d) {
		t.Error("distance is NaN")
	}

	if got := (Point{Lon: 7, Lat: 46}).DistanceTo(Point{Lon: 7, Lat: 46}); got != 0 {
		t.Errorf("expected zero distance, got %f", got)
	}
}
