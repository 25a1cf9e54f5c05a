package heightbuf

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/geoterrain/internal/engine/framebuffer"
	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/internal/engine/shader"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// GLTarget runs the height pass on the GPU. A GL context must be current on
// the calling thread for every method.
type GLTarget struct {
	fb      *framebuffer.Framebuffer
	program *shader.Program
	camera  int32
	source  int32
	channel int32

	texture uint32
	vao     uint32
	vbo     uint32
	width   int
	height  int
	elev    int
}

// GLTargetFactory returns a TargetFactory building GL targets that output
// the given elevation channel.
func GLTargetFactory(channel int) TargetFactory {
	return func(width, height int) (Target, error) {
		return NewGLTarget(width, height, channel)
	}
}

// NewGLTarget allocates a framebuffer, the quad and the height program.
func NewGLTarget(width, height, channel int) (*GLTarget, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("gl target %dx%d: %w", width, height, ErrInvalidGeometry)
	}

	fb, err := framebuffer.New(int32(width), int32(height))
	if err != nil {
		return nil, err
	}

	prog, err := shader.Compile(shader.HeightVertex, shader.HeightFragment)
	if err != nil {
		fb.Destroy()
		return nil, fmt.Errorf("height program: %w", err)
	}

	t := &GLTarget{fb: fb, program: prog, width: width, height: height, elev: channel}
	for name, loc := range map[string]*int32{"uCamera": &t.camera, "uSource": &t.source, "uChannel": &t.channel} {
		if *loc, err = prog.Uniform(name); err != nil {
			t.Close()
			return nil, err
		}
	}

	t.createQuad()
	gl.GenTextures(1, &t.texture)
	return t, nil
}

// createQuad uploads a quad covering the pixel rectangle centered on the
// origin. The top edge samples the first texture row, which holds the
// frame's top row.
func (t *GLTarget) createQuad() {
	hw, hh := float32(t.width)/2, float32(t.height)/2
	vertices := []float32{
		// position   texcoord
		-hw, -hh, 0, 1,
		hw, -hh, 1, 1,
		-hw, hh, 0, 0,
		hw, hh, 1, 0,
	}

	gl.GenVertexArrays(1, &t.vao)
	gl.BindVertexArray(t.vao)

	gl.GenBuffers(1, &t.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, t.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices)*4, unsafe.Pointer(&vertices[0]), gl.STATIC_DRAW)

	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 4*4, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 2, gl.FLOAT, false, 4*4, 2*4)
	gl.EnableVertexAttribArray(1)

	gl.BindVertexArray(0)
}

// Upload implements Target. Pixels are uploaded unpremultiplied with
// nearest filtering so encoded values reach the pass unchanged.
func (t *GLTarget) Upload(src *raster.Frame) error {
	w, h := src.Size()
	gl.BindTexture(gl.TEXTURE_2D, t.texture)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(src.Pix.Stride/4))
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(w), int32(h), 0, gl.RGBA, gl.UNSIGNED_BYTE, unsafe.Pointer(&src.Pix.Pix[0]))
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if errCode := gl.GetError(); errCode != gl.NO_ERROR {
		return fmt.Errorf("texture upload: gl error 0x%x", errCode)
	}
	return nil
}

// Draw implements Target.
func (t *GLTarget) Draw(camera math.Mat4) error {
	restore := t.fb.BindWithViewport()
	defer restore()

	gl.Disable(gl.BLEND)
	gl.Disable(gl.DEPTH_TEST)
	t.fb.Clear()

	t.program.Use()
	gl.UniformMatrix4fv(t.camera, 1, false, camera.Ptr())
	gl.Uniform1i(t.channel, int32(t.elev))
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, t.texture)
	gl.Uniform1i(t.source, 0)

	gl.BindVertexArray(t.vao)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
	gl.BindVertexArray(0)

	if errCode := gl.GetError(); errCode != gl.NO_ERROR {
		return fmt.Errorf("height draw: gl error 0x%x", errCode)
	}
	return nil
}

// Texel implements Target. GL rows grow upward, so y is flipped.
func (t *GLTarget) Texel(x, y int) ([4]uint8, error) {
	px := t.fb.ReadPixel(int32(x), int32(t.height-1-y))
	if errCode := gl.GetError(); errCode != gl.NO_ERROR {
		return px, fmt.Errorf("readback: gl error 0x%x", errCode)
	}
	return px, nil
}

// Close implements Target.
func (t *GLTarget) Close() error {
	if t.vao != 0 {
		gl.DeleteVertexArrays(1, &t.vao)
		t.vao = 0
	}
	if t.vbo != 0 {
		gl.DeleteBuffers(1, &t.vbo)
		t.vbo = 0
	}
	if t.texture != 0 {
		gl.DeleteTextures(1, &t.texture)
		t.texture = 0
	}
	if t.program != nil {
		t.program.Delete()
	}
	if t.fb != nil {
		t.fb.Destroy()
	}
	return nil
}
