package heightbuf

import (
	"errors"
	"fmt"
	"image"
	gomath "math"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// SoftwareTarget rasterizes the height pass on the CPU. It draws the same
// textured quad a GPU target does, with nearest filtering, and needs no
// graphics context.
type SoftwareTarget struct {
	width   int
	height  int
	texture *image.NRGBA
	color   *image.NRGBA
	closed  bool
}

// NewSoftwareTarget implements TargetFactory.
func NewSoftwareTarget(width, height int) (Target, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("software target %dx%d: %w", width, height, ErrInvalidGeometry)
	}
	return &SoftwareTarget{
		width:  width,
		height: height,
		color:  image.NewNRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// Upload copies the frame into the target's texture.
func (t *SoftwareTarget) Upload(src *raster.Frame) error {
	if t.closed {
		return errors.New("software target closed")
	}
	t.texture = raster.Copy(src).Pix
	return nil
}

// Draw clears the color buffer and rasterizes a quad covering the camera's
// pixel rectangle, textured with the uploaded frame.
func (t *SoftwareTarget) Draw(camera math.Mat4) error {
	if t.closed {
		return errors.New("software target closed")
	}
	if t.texture == nil {
		return errors.New("software target has no texture")
	}
	clear(t.color.Pix)

	// Quad corners in pixel space, centered on the origin.
	hw, hh := float32(t.width)/2, float32(t.height)/2
	lo := t.toWindow(camera.TransformPoint([3]float32{-hw, -hh, 0}))
	hi := t.toWindow(camera.TransformPoint([3]float32{hw, hh, 0}))
	if hi[0] <= lo[0] || hi[1] <= lo[1] {
		return nil
	}

	tb := t.texture.Bounds()
	tw, th := tb.Dx(), tb.Dy()
	for y := 0; y < t.height; y++ {
		// Window rows grow upward, texel rows downward.
		wy := float64(t.height) - (float64(y) + 0.5)
		if wy < lo[1] || wy >= hi[1] {
			continue
		}
		v := (hi[1] - wy) / (hi[1] - lo[1])
		ty := minInt(int(gomath.Floor(v*float64(th))), th-1)

		for x := 0; x < t.width; x++ {
			wx := float64(x) + 0.5
			if wx < lo[0] || wx >= hi[0] {
				continue
			}
			u := (wx - lo[0]) / (hi[0] - lo[0])
			tx := minInt(int(gomath.Floor(u*float64(tw))), tw-1)

			si := t.texture.PixOffset(tx, ty)
			di := t.color.PixOffset(x, y)
			copy(t.color.Pix[di:di+4], t.texture.Pix[si:si+4])
		}
	}
	return nil
}

// toWindow maps clip coordinates to window pixels (origin bottom-left).
func (t *SoftwareTarget) toWindow(ndc [3]float32) [2]float64 {
	return [2]float64{
		(float64(ndc[0]) + 1) / 2 * float64(t.width),
		(float64(ndc[1]) + 1) / 2 * float64(t.height),
	}
}

// Texel implements Target.
func (t *SoftwareTarget) Texel(x, y int) ([4]uint8, error) {
	if t.closed {
		return [4]uint8{}, errors.New("software target closed")
	}
	var px [4]uint8
	i := t.color.PixOffset(x, y)
	copy(px[:], t.color.Pix[i:i+4])
	return px, nil
}

// Image returns the color buffer. It is overwritten by the next Draw.
func (t *SoftwareTarget) Image() *image.NRGBA {
	return t.color
}

// Close implements Target.
func (t *SoftwareTarget) Close() error {
	t.closed = true
	t.texture = nil
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
