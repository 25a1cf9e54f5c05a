package heightbuf

import (
	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Dispatcher runs fn on the thread owning the graphics context and returns
// its error.
type Dispatcher func(fn func() error) error

// Dispatched wraps a factory so that target creation and every target call
// go through run. Rasters arrive on renderer goroutines while GL state is
// bound to one thread.
func Dispatched(next TargetFactory, run Dispatcher) TargetFactory {
	return func(width, height int) (Target, error) {
		var t Target
		err := run(func() error {
			var err error
			t, err = next(width, height)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &dispatchedTarget{target: t, run: run}, nil
	}
}

type dispatchedTarget struct {
	target Target
	run    Dispatcher
}

func (d *dispatchedTarget) Upload(frame *raster.Frame) error {
	return d.run(func() error { return d.target.Upload(frame) })
}

func (d *dispatchedTarget) Draw(camera math.Mat4) error {
	return d.run(func() error { return d.target.Draw(camera) })
}

func (d *dispatchedTarget) Texel(x, y int) ([4]uint8, error) {
	var px [4]uint8
	err := d.run(func() error {
		var err error
		px, err = d.target.Texel(x, y)
		return err
	})
	return px, err
}

func (d *dispatchedTarget) Close() error {
	return d.run(d.target.Close)
}
