// Package metrics exposes Prometheus collectors for the terrain engine.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geoterrain"

// Collectors groups every metric the engine records.
type Collectors struct {
	renderers      prometheus.Gauge
	slotsInUse     prometheus.Gauge
	queued         prometheus.Gauge
	staleCallbacks prometheus.Counter
	renderFailures prometheus.Counter
	heightPasses   prometheus.Counter
	readbacks      prometheus.Counter
	readyCycles    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		renderers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "renderers",
			Help: "Backing raster renderers currently alive.",
		}),
		slotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "slots_in_use",
			Help: "Pool slots checked out by a consumer.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "queued_requests",
			Help: "Acquire requests waiting for a free slot.",
		}),
		staleCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "stale_callbacks_total",
			Help: "View-complete callbacks dropped because a newer request superseded them.",
		}),
		renderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "render_failures_total",
			Help: "Renders that completed with an error.",
		}),
		heightPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "heightbuf", Name: "passes_total",
			Help: "Height buffer render passes issued.",
		}),
		readbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "heightbuf", Name: "readbacks_total",
			Help: "Single-texel height readbacks.",
		}),
		readyCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "terrain", Name: "ready_cycles_total",
			Help: "Load-join generations that reached the ready state.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.renderers, c.slotsInUse, c.queued, c.staleCallbacks,
			c.renderFailures, c.heightPasses, c.readbacks, c.readyCycles,
		)
	}
	return c
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RendererCreated records a new backing renderer.
func (c *Collectors) RendererCreated() {
	if c != nil {
		c.renderers.Inc()
	}
}

// RendererClosed records a backing renderer being freed.
func (c *Collectors) RendererClosed() {
	if c != nil {
		c.renderers.Dec()
	}
}

// SlotAcquired records a slot checkout.
func (c *Collectors) SlotAcquired() {
	if c != nil {
		c.slotsInUse.Inc()
	}
}

// SlotReleased records a slot return.
func (c *Collectors) SlotReleased() {
	if c != nil {
		c.slotsInUse.Dec()
	}
}

// SetQueued records the number of waiting requests.
func (c *Collectors) SetQueued(n int) {
	if c != nil {
		c.queued.Set(float64(n))
	}
}

// StaleCallback records a dropped callback.
func (c *Collectors) StaleCallback() {
	if c != nil {
		c.staleCallbacks.Inc()
	}
}

// RenderFailed records a failed render.
func (c *Collectors) RenderFailed() {
	if c != nil {
		c.renderFailures.Inc()
	}
}

// HeightPass records a height buffer render pass.
func (c *Collectors) HeightPass() {
	if c != nil {
		c.heightPasses.Inc()
	}
}

// Readback records a height readback.
func (c *Collectors) Readback() {
	if c != nil {
		c.readbacks.Inc()
	}
}

// ReadyCycle records a completed load-join generation.
func (c *Collectors) ReadyCycle() {
	if c != nil {
		c.readyCycles.Inc()
	}
}
