package heightbuf

import (
	"errors"
	"math"
	"sync"
	"testing"
)

// loopDispatcher runs every call on one serving goroutine and counts them.
type loopDispatcher struct {
	calls chan func()
	mu    sync.Mutex
	n     int
}

func newLoopDispatcher(t *testing.T) *loopDispatcher {
	d := &loopDispatcher{calls: make(chan func())}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case fn := <-d.calls:
				fn()
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(done) })
	return d
}

func (d *loopDispatcher) run(fn func() error) error {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	errc := make(chan error, 1)
	d.calls <- func() { errc <- fn() }
	return <-errc
}

func (d *loopDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

func TestDispatchedTargetRoutesEveryCall(t *testing.T) {
	d := newLoopDispatcher(t)
	b, err := NewBuilder(Options{Channel: ChannelAlpha, NewTarget: Dispatched(NewSoftwareTarget, d.run)})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	buf := rendered(t, b, uniform(8, 8, 51))
	v, err := buf.Sample(4, 4)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if want := 51.0 / 255; math.Abs(v-want) > 1e-12 {
		t.Errorf("expected %f, got %f", want, v)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// create, upload, draw, texel, close
	if got := d.count(); got != 5 {
		t.Errorf("expected 5 dispatched calls, got %d", got)
	}
}

func TestDispatchedFactoryError(t *testing.T) {
	d := newLoopDispatcher(t)
	boom := errors.New("no context")
	factory := Dispatched(func(int, int) (Target, error) { return nil, boom }, d.run)

	if _, err := factory(4, 4); !errors.Is(err, boom) {
		t.Errorf("expected factory error, got %v", err)
	}
}
