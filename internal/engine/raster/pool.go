package raster

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/metrics"
)

// DefaultDisposeDelay is the grace period before a disposed renderer is freed,
// so in-flight GPU work can finish.
const DefaultDisposeDelay = 300 * time.Millisecond

var (
	// ErrPoolClosed is returned by operations on a closed pool and delivered to
	// requests still queued when the pool closes.
	ErrPoolClosed = errors.New("raster: pool closed")

	// ErrUnknownTicket is returned for tickets the pool does not hold.
	ErrUnknownTicket = errors.New("raster: unknown ticket")

	// ErrInvalidSpec is returned for specs with non-positive pixel sizes.
	ErrInvalidSpec = errors.New("raster: invalid render spec")
)

// SlotID indexes a slot in the pool arena. IDs are never reused.
type SlotID int

// Ticket identifies one acquire request for its whole life, including the
// time spent queued before a slot is granted.
type Ticket uint64

// Result is delivered to a ReadyFunc when the slot's view completes.
type Result struct {
	Slot       SlotID
	Frame      *Frame
	Projection Projection
	Err        error
}

// ReadyFunc is the one-shot content-ready subscription of a request. The
// frame belongs to the slot: copy it before releasing the ticket if it must
// outlive the next render.
type ReadyFunc func(t Ticket, res Result)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Capacity bounds the number of pooled renderers. Zero disables reuse:
	// every request gets its own renderer, freed with Dispose.
	Capacity int

	// DisposeDelay defaults to DefaultDisposeDelay when zero.
	DisposeDelay time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collectors

	// Schedule runs f after d. Defaults to time.AfterFunc.
	Schedule func(d time.Duration, f func())
}

type slot struct {
	id       SlotID
	renderer Renderer
	spec     Spec
	pooled   bool
	inUse    bool
	loaded   bool
	gen      uint64
	ticket   Ticket
	onReady  ReadyFunc
}

type request struct {
	ticket  Ticket
	spec    Spec
	onReady ReadyFunc
}

// Pool hands out reusable renderer slots. Only one consumer holds a slot at
// a time; requests beyond capacity are queued until a slot is released.
type Pool struct {
	mu sync.Mutex

	factory      Factory
	capacity     int
	disposeDelay time.Duration
	schedule     func(d time.Duration, f func())
	log          *zap.Logger
	metrics      *metrics.Collectors

	slots      []*slot // nil entries are disposed
	leases     map[Ticket]SlotID
	pending    []*request
	nextTicket Ticket
	closed     bool
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Capacity  int
	Renderers int
	InUse     int
	Queued    int
}

// NewPool creates a pool that builds renderers with factory.
func NewPool(factory Factory, opts PoolOptions) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("raster: nil renderer factory")
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("raster: negative pool capacity %d", opts.Capacity)
	}
	if opts.DisposeDelay == 0 {
		opts.DisposeDelay = DefaultDisposeDelay
	}
	if opts.Schedule == nil {
		opts.Schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Pool{
		factory:      factory,
		capacity:     opts.Capacity,
		disposeDelay: opts.DisposeDelay,
		schedule:     opts.Schedule,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		leases:       make(map[Ticket]SlotID),
	}, nil
}

// Acquire requests a slot rendering spec. onReady fires once when the view
// completes. When every slot is busy the request is queued and served, in
// order, as slots are released.
func (p *Pool) Acquire(spec Spec, onReady ReadyFunc) (Ticket, error) {
	if spec.Width < 1 || spec.Height < 1 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidSpec, spec.Width, spec.Height)
	}
	if onReady == nil {
		return 0, errors.New("raster: nil ready callback")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPoolClosed
	}

	p.nextTicket++
	req := &request{ticket: p.nextTicket, spec: spec, onReady: onReady}

	start, err := p.serveLocked(req)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	if start == nil {
		p.pending = append(p.pending, req)
		p.metrics.SetQueued(len(p.pending))
		p.log.Debug("acquire queued",
			zap.Uint64("ticket", uint64(req.ticket)),
			zap.Int("queued", len(p.pending)))
	}
	p.mu.Unlock()

	if start != nil {
		start()
	}
	return req.ticket, nil
}

// Rerender supersedes the outstanding subscription of t with a fresh render
// of view. Callbacks from the superseded render are dropped.
func (p *Pool) Rerender(t Ticket, view View, onReady ReadyFunc) error {
	if onReady == nil {
		return errors.New("raster: nil ready callback")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	for _, req := range p.pending {
		if req.ticket == t {
			req.spec.View = view
			req.onReady = onReady
			p.mu.Unlock()
			return nil
		}
	}

	id, ok := p.leases[t]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("rerender %d: %w", t, ErrUnknownTicket)
	}
	s := p.slots[id]
	s.spec.View = view
	start := p.subscribeLocked(s, t, onReady)
	p.mu.Unlock()

	start()
	return nil
}

// Release returns the slot held by t to the pool. Resources are kept for
// reuse. Releasing a queued ticket cancels the request.
func (p *Pool) Release(t Ticket) error {
	p.mu.Lock()

	if p.cancelPendingLocked(t) {
		p.mu.Unlock()
		return nil
	}

	id, ok := p.leases[t]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("release %d: %w", t, ErrUnknownTicket)
	}
	delete(p.leases, t)

	s := p.slots[id]
	p.vacateLocked(s)
	p.log.Debug("slot released", zap.Int("slot", int(id)), zap.Uint64("ticket", uint64(t)))

	starts := p.drainLocked()
	p.mu.Unlock()

	for _, start := range starts {
		start()
	}
	return nil
}

// Dispose permanently frees the slot held by t. The renderer is closed after
// the dispose delay.
func (p *Pool) Dispose(t Ticket) error {
	p.mu.Lock()

	if p.cancelPendingLocked(t) {
		p.mu.Unlock()
		return nil
	}

	id, ok := p.leases[t]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("dispose %d: %w", t, ErrUnknownTicket)
	}
	delete(p.leases, t)

	s := p.slots[id]
	p.vacateLocked(s)
	p.slots[id] = nil
	r := s.renderer

	starts := p.drainLocked()
	p.mu.Unlock()

	p.log.Info("renderer disposal scheduled", zap.Int("slot", int(id)), zap.Duration("delay", p.disposeDelay))
	p.schedule(p.disposeDelay, func() {
		if err := r.Close(); err != nil {
			p.log.Error("closing disposed renderer", zap.Int("slot", int(id)), zap.Error(err))
		}
		p.metrics.RendererClosed()
	})

	for _, start := range starts {
		start()
	}
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PoolStats{Capacity: p.capacity, Queued: len(p.pending)}
	for _, s := range p.slots {
		if s == nil {
			continue
		}
		st.Renderers++
		if s.inUse {
			st.InUse++
		}
	}
	return st
}

// Close frees every renderer immediately. Queued requests receive
// ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	pending := p.pending
	p.pending = nil
	p.leases = make(map[Ticket]SlotID)

	var renderers []Renderer
	for i, s := range p.slots {
		if s == nil {
			continue
		}
		s.gen++
		s.inUse = false
		s.onReady = nil
		renderers = append(renderers, s.renderer)
		p.slots[i] = nil
	}
	p.metrics.SetQueued(0)
	p.mu.Unlock()

	var err error
	for _, r := range renderers {
		err = multierr.Append(err, r.Close())
		p.metrics.RendererClosed()
	}
	for _, req := range pending {
		req.onReady(req.ticket, Result{Slot: -1, Err: ErrPoolClosed})
	}

	p.log.Info("raster pool closed", zap.Int("renderers", len(renderers)), zap.Int("cancelled", len(pending)))
	return err
}

// serveLocked grants req a slot if one is available, creating a renderer
// when capacity allows. A nil start func means the request must wait.
func (p *Pool) serveLocked(req *request) (func(), error) {
	if p.capacity == 0 {
		s, err := p.createLocked(req.spec, false)
		if err != nil {
			return nil, err
		}
		return p.grantLocked(s, req), nil
	}

	// Reuse before allocating so released slots are preferred.
	for _, s := range p.slots {
		if s != nil && s.pooled && !s.inUse {
			if err := p.retargetLocked(s, req.spec); err != nil {
				return nil, err
			}
			p.log.Debug("slot reused", zap.Int("slot", int(s.id)), zap.Uint64("ticket", uint64(req.ticket)))
			return p.grantLocked(s, req), nil
		}
	}

	if p.liveLocked() < p.capacity {
		s, err := p.createLocked(req.spec, true)
		if err != nil {
			return nil, err
		}
		return p.grantLocked(s, req), nil
	}
	return nil, nil
}

func (p *Pool) createLocked(spec Spec, pooled bool) (*slot, error) {
	r, err := p.factory.NewRenderer(spec)
	if err != nil {
		return nil, fmt.Errorf("creating renderer for %q: %w", spec.Content, err)
	}

	s := &slot{id: SlotID(len(p.slots)), renderer: r, spec: spec, pooled: pooled}
	p.slots = append(p.slots, s)
	p.metrics.RendererCreated()
	p.log.Debug("renderer created",
		zap.Int("slot", int(s.id)),
		zap.String("content", spec.Content),
		zap.Int("width", spec.Width),
		zap.Int("height", spec.Height),
		zap.Bool("pooled", pooled))
	return s, nil
}

// retargetLocked points an idle slot at spec, reconfiguring or recreating
// its renderer when content or size differ.
func (p *Pool) retargetLocked(s *slot, spec Spec) error {
	if s.spec.SameTarget(spec) {
		s.spec = spec
		return nil
	}

	if rc, ok := s.renderer.(Reconfigurer); ok {
		if err := rc.Reconfigure(spec); err != nil {
			return fmt.Errorf("reconfiguring slot %d: %w", s.id, err)
		}
		s.spec = spec
		return nil
	}

	r, err := p.factory.NewRenderer(spec)
	if err != nil {
		return fmt.Errorf("recreating renderer for slot %d: %w", s.id, err)
	}
	if err := s.renderer.Close(); err != nil {
		p.log.Warn("closing replaced renderer", zap.Int("slot", int(s.id)), zap.Error(err))
	}
	s.renderer = r
	s.spec = spec
	return nil
}

func (p *Pool) grantLocked(s *slot, req *request) func() {
	s.inUse = true
	s.spec = req.spec
	p.leases[req.ticket] = s.id
	p.metrics.SlotAcquired()
	return p.subscribeLocked(s, req.ticket, req.onReady)
}

// subscribeLocked starts a new generation on s. Any callback from an older
// generation is ignored when it arrives.
func (p *Pool) subscribeLocked(s *slot, t Ticket, onReady ReadyFunc) func() {
	s.gen++
	s.loaded = false
	s.ticket = t
	s.onReady = onReady

	r, view, id, gen := s.renderer, s.spec.View, s.id, s.gen
	return func() {
		r.Render(view, p.completion(id, gen))
	}
}

func (p *Pool) completion(id SlotID, gen uint64) CompleteFunc {
	return func(frame *Frame, proj Projection, err error) {
		p.mu.Lock()
		var s *slot
		if int(id) < len(p.slots) {
			s = p.slots[id]
		}
		if s == nil || s.gen != gen || !s.inUse || s.loaded {
			p.mu.Unlock()
			p.metrics.StaleCallback()
			p.log.Debug("stale view-complete ignored", zap.Int("slot", int(id)), zap.Uint64("generation", gen))
			return
		}
		s.loaded = true
		onReady, t := s.onReady, s.ticket
		s.onReady = nil
		p.mu.Unlock()

		if err != nil {
			p.metrics.RenderFailed()
			p.log.Error("render failed", zap.Int("slot", int(id)), zap.Error(err))
		}
		onReady(t, Result{Slot: id, Frame: frame, Projection: proj, Err: err})
	}
}

func (p *Pool) vacateLocked(s *slot) {
	s.inUse = false
	s.onReady = nil
	s.gen++
	p.metrics.SlotReleased()
}

// drainLocked serves queued requests while slots are available. A request
// whose renderer cannot be built is failed through its callback.
func (p *Pool) drainLocked() []func() {
	var starts []func()

	for len(p.pending) > 0 && !p.closed {
		req := p.pending[0]
		start, err := p.serveLocked(req)
		if err != nil {
			p.pending = p.pending[1:]
			p.log.Error("serving queued request", zap.Uint64("ticket", uint64(req.ticket)), zap.Error(err))
			failed := req
			starts = append(starts, func() {
				failed.onReady(failed.ticket, Result{Slot: -1, Err: err})
			})
			continue
		}
		if start == nil {
			break
		}
		p.pending = p.pending[1:]
		starts = append(starts, start)
	}

	p.metrics.SetQueued(len(p.pending))
	return starts
}

func (p *Pool) cancelPendingLocked(t Ticket) bool {
	for i, req := range p.pending {
		if req.ticket == t {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.metrics.SetQueued(len(p.pending))
			p.log.Debug("queued request cancelled", zap.Uint64("ticket", uint64(t)))
			return true
		}
	}
	return false
}

func (p *Pool) liveLocked() int {
	n := 0
	for _, s := range p.slots {
		if s != nil {
			n++
		}
	}
	return n
}
