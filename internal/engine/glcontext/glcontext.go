// Package glcontext creates a hidden SDL2 window hosting an OpenGL 4.1 core
// context for offscreen rendering.
package glcontext

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"
)

func init() {
	// GL calls must come from the thread that owns the context.
	runtime.LockOSThread()
}

// Context is an offscreen GL context. GL work from other goroutines is
// funneled through Call and executed by Serve on the owning thread.
type Context struct {
	window *sdl.Window
	gl     sdl.GLContext
	log    *zap.Logger
	calls  chan func()
}

// New creates the hidden window and makes its GL context current.
func New(log *zap.Logger) (*Context, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("SDL_Init failed: %w", err)
	}

	// 4.1 core is the highest profile macOS offers.
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MAJOR_VERSION, 4)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MINOR_VERSION, 1)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE)

	win, err := sdl.CreateWindow("geoterrain", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		1, 1, sdl.WINDOW_OPENGL|sdl.WINDOW_HIDDEN)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("SDL_CreateWindow failed: %w", err)
	}

	ctx, err := win.GLCreateContext()
	if err != nil {
		win.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("SDL_GL_CreateContext failed: %w", err)
	}

	if err := gl.Init(); err != nil {
		sdl.GLDeleteContext(ctx)
		win.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("gl.Init failed: %w", err)
	}

	log.Info("offscreen GL context created",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))))

	return &Context{window: win, gl: ctx, log: log, calls: make(chan func())}, nil
}

// MakeCurrent binds the context to the calling thread.
func (c *Context) MakeCurrent() error {
	return c.window.GLMakeCurrent(c.gl)
}

// Call runs fn on the thread executing Serve and waits for its result.
func (c *Context) Call(fn func() error) error {
	errc := make(chan error, 1)
	c.calls <- func() { errc <- fn() }
	return <-errc
}

// Serve executes queued calls until ctx is done. It must run on the thread
// that created the context.
func (c *Context) Serve(ctx context.Context) {
	for {
		select {
		case fn := <-c.calls:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Close destroys the context and shuts SDL down.
func (c *Context) Close() error {
	c.log.Info("closing offscreen GL context")
	if c.gl != nil {
		sdl.GLDeleteContext(c.gl)
	}
	if c.window != nil {
		if err := c.window.Destroy(); err != nil {
			return err
		}
	}
	sdl.Quit()
	return nil
}
