// Package preview draws a terrain snapshot to PNG: the height buffer as a
// grey ramp with the active LOD grid and projected markers on top.
package preview

import (
	"errors"
	"image"
	"image/color"
	"io"

	"github.com/gogpu/gg"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/pkg/geo"
)

// Canvas is an annotated height map.
type Canvas struct {
	dc *gg.Context
}

// Heightmap converts one channel of frame into a grey image.
func Heightmap(frame *raster.Frame, channel int) (*image.Gray, error) {
	if frame == nil || frame.Pix == nil {
		return nil, raster.ErrEmptyFrame
	}
	w, h := frame.Size()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: frame.Channel(x, y, channel)})
		}
	}
	return img, nil
}

// New starts a canvas over the given channel of an elevation frame.
func New(frame *raster.Frame, channel int) (*Canvas, error) {
	img, err := Heightmap(frame, channel)
	if err != nil {
		return nil, err
	}
	return &Canvas{dc: gg.NewContextForImage(img)}, nil
}

// Size returns the canvas size in pixels.
func (c *Canvas) Size() (width, height int) {
	return c.dc.Width(), c.dc.Height()
}

// Grid draws segX by segY cells spanning the canvas.
func (c *Canvas) Grid(segX, segY int) error {
	if segX < 1 || segY < 1 {
		return errors.New("preview: grid needs at least one segment per axis")
	}
	w, h := float64(c.dc.Width()), float64(c.dc.Height())

	c.dc.SetRGBA(0, 0.8, 0.2, 0.6)
	c.dc.SetLineWidth(1)
	for i := 0; i <= segX; i++ {
		x := w * float64(i) / float64(segX)
		c.dc.DrawLine(x, 0, x, h)
	}
	for j := 0; j <= segY; j++ {
		y := h * float64(j) / float64(segY)
		c.dc.DrawLine(0, y, w, y)
	}
	return c.dc.Stroke()
}

// Mark draws a filled red dot at a raster pixel.
func (c *Canvas) Mark(px geo.Pixel, radius float64) error {
	c.dc.SetRGB(1, 0, 0)
	c.dc.DrawCircle(px.X, px.Y, radius)
	return c.dc.Fill()
}

// Image returns the drawn canvas.
func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// Encode writes the canvas as PNG.
func (c *Canvas) Encode(w io.Writer) error {
	return c.dc.EncodePNG(w)
}

// Save writes the canvas to a PNG file.
func (c *Canvas) Save(path string) error {
	return c.dc.SavePNG(path)
}

// Close frees the drawing context.
func (c *Canvas) Close() error {
	return c.dc.Close()
}
