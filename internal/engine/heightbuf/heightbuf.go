// Package heightbuf turns elevation frames into sampleable height buffers.
//
// A frame is uploaded to a render target and rasterized through an
// orthographic pass that frames exactly its pixel rectangle. Samples read
// back single texels and are only valid after the pass has run for the
// current contents.
package heightbuf

import (
	"errors"
	"fmt"
	gomath "math"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/engine/raster"
	"github.com/Faultbox/geoterrain/internal/metrics"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Elevation channel indices.
const (
	ChannelRed   = 0
	ChannelGreen = 1
	ChannelBlue  = 2
	ChannelAlpha = 3
)

var (
	// ErrInvalidGeometry is returned for zero-sized frames.
	ErrInvalidGeometry = errors.New("heightbuf: invalid geometry")

	// ErrNotRendered is returned by Sample before the height pass ran for
	// the buffer's current contents. The accompanying value is 0.
	ErrNotRendered = errors.New("heightbuf: buffer not rendered")

	// ErrClosed is returned for operations on a closed buffer.
	ErrClosed = errors.New("heightbuf: buffer closed")
)

// Target is a render target for the height pass. Texel coordinates use a
// top-left origin.
type Target interface {
	Upload(src *raster.Frame) error
	Draw(camera math.Mat4) error
	Texel(x, y int) ([4]uint8, error)
	Close() error
}

// TargetFactory allocates a target of the given pixel size.
type TargetFactory func(width, height int) (Target, error)

// Options configures a Builder.
type Options struct {
	// Channel is the index of the elevation channel, ChannelRed through
	// ChannelAlpha.
	Channel int

	// NewTarget defaults to NewSoftwareTarget.
	NewTarget TargetFactory

	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

// Builder creates height buffers.
type Builder struct {
	channel   int
	newTarget TargetFactory
	log       *zap.Logger
	metrics   *metrics.Collectors
}

// NewBuilder validates opts and returns a builder.
func NewBuilder(opts Options) (*Builder, error) {
	channel := opts.Channel
	if channel < ChannelRed || channel > ChannelAlpha {
		return nil, fmt.Errorf("heightbuf: channel %d out of range", channel)
	}
	if opts.NewTarget == nil {
		opts.NewTarget = NewSoftwareTarget
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Builder{
		channel:   channel,
		newTarget: opts.NewTarget,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Channel returns the elevation channel index.
func (b *Builder) Channel() int {
	return b.channel
}

// Build allocates a target matching frame and uploads it. The buffer must
// be rendered before it can be sampled.
func (b *Builder) Build(frame *raster.Frame) (*Buffer, error) {
	if frame == nil || frame.Width() < 1 || frame.Height() < 1 {
		return nil, fmt.Errorf("build height buffer: %w", ErrInvalidGeometry)
	}

	w, h := frame.Size()
	target, err := b.newTarget(w, h)
	if err != nil {
		return nil, fmt.Errorf("allocating %dx%d height target: %w", w, h, err)
	}
	if err := target.Upload(frame); err != nil {
		target.Close()
		return nil, fmt.Errorf("uploading height frame: %w", err)
	}

	b.log.Debug("height buffer built", zap.Int("width", w), zap.Int("height", h), zap.Int("channel", b.channel))
	return &Buffer{
		builder: b,
		target:  target,
		width:   w,
		height:  h,
		camera:  math.PixelOrtho(w, h),
	}, nil
}

// Buffer is a height render target plus its orthographic camera.
type Buffer struct {
	builder *Builder

	mu       sync.Mutex
	target   Target
	width    int
	height   int
	camera   math.Mat4
	rendered bool
	closed   bool
}

// Size returns the buffer dimensions in texels.
func (buf *Buffer) Size() (width, height int) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.width, buf.height
}

// Rendered reports whether samples are valid for the current contents.
func (buf *Buffer) Rendered() bool {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.rendered
}

// Update replaces the buffer contents. A frame of a different size
// reallocates the target. The buffer must be rendered again.
func (buf *Buffer) Update(frame *raster.Frame) error {
	if frame == nil || frame.Width() < 1 || frame.Height() < 1 {
		return fmt.Errorf("update height buffer: %w", ErrInvalidGeometry)
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.closed {
		return ErrClosed
	}

	buf.rendered = false
	w, h := frame.Size()
	if w != buf.width || h != buf.height {
		target, err := buf.builder.newTarget(w, h)
		if err != nil {
			return fmt.Errorf("reallocating %dx%d height target: %w", w, h, err)
		}
		if err := buf.target.Close(); err != nil {
			buf.builder.log.Warn("closing resized height target", zap.Error(err))
		}
		buf.target, buf.width, buf.height = target, w, h
		buf.camera = math.PixelOrtho(w, h)
	}

	if err := buf.target.Upload(frame); err != nil {
		return fmt.Errorf("uploading height frame: %w", err)
	}
	return nil
}

// Render runs the height pass. It must be called after Build and after
// every Update before samples are trusted.
func (buf *Buffer) Render() error {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.closed {
		return ErrClosed
	}

	if err := buf.target.Draw(buf.camera); err != nil {
		return fmt.Errorf("height pass: %w", err)
	}
	buf.rendered = true
	buf.builder.metrics.HeightPass()
	return nil
}

// Sample reads the texel nearest to (x, y) and returns its elevation
// channel normalized to [0, 1]. Coordinates are rounded and clamped to the
// buffer edge. Before the first Render it returns 0 and ErrNotRendered.
func (buf *Buffer) Sample(x, y float64) (float64, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.closed {
		return 0, ErrClosed
	}
	if !buf.rendered {
		return 0, ErrNotRendered
	}

	tx := clampTexel(x, buf.width)
	ty := clampTexel(y, buf.height)
	px, err := buf.target.Texel(tx, ty)
	if err != nil {
		return 0, fmt.Errorf("reading texel (%d,%d): %w", tx, ty, err)
	}
	buf.builder.metrics.Readback()
	return float64(px[buf.builder.channel]) / 255, nil
}

// Close releases the target. Further calls return ErrClosed.
func (buf *Buffer) Close() error {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.closed {
		return nil
	}
	buf.closed = true
	buf.rendered = false
	return buf.target.Close()
}

func clampTexel(v float64, size int) int {
	if gomath.IsNaN(v) {
		return 0
	}
	v = gomath.Round(v)
	if v < 0 {
		return 0
	}
	if v > float64(size-1) {
		return size - 1
	}
	return int(v)
}
