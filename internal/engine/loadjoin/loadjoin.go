// Package loadjoin gates readiness on several asynchronous streams.
//
// A Join waits until every required stream has completed at least once for
// the current generation, then fires its ready callbacks exactly once.
// Arming a new generation discards progress; marks carrying an older
// generation are ignored.
package loadjoin

import (
	"fmt"
	"sync"
)

// Stream identifies one asynchronous producer.
type Stream string

// Standard terrain streams.
const (
	Imagery   Stream = "imagery"
	Elevation Stream = "elevation"
)

// Generation numbers one ready cycle.
type Generation uint64

// ReadyFunc is called once per generation when every stream has marked.
type ReadyFunc func(gen Generation)

// Join is a re-armable latch over a fixed set of streams.
type Join struct {
	mu       sync.Mutex
	required []Stream
	gen      Generation
	done     map[Stream]bool
	fired    bool
	onReady  []ReadyFunc
}

// New creates a join over the required streams, armed at generation 1.
func New(required ...Stream) (*Join, error) {
	if len(required) == 0 {
		return nil, fmt.Errorf("loadjoin: no streams required")
	}
	seen := make(map[Stream]bool, len(required))
	for _, s := range required {
		if seen[s] {
			return nil, fmt.Errorf("loadjoin: stream %q listed twice", s)
		}
		seen[s] = true
	}
	return &Join{
		required: append([]Stream(nil), required...),
		gen:      1,
		done:     make(map[Stream]bool, len(required)),
	}, nil
}

// OnReady registers fn for every future ready cycle.
func (j *Join) OnReady(fn ReadyFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onReady = append(j.onReady, fn)
}

// Arm starts a new generation and returns it. Streams must mark again.
func (j *Join) Arm() Generation {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.gen++
	j.fired = false
	clear(j.done)
	return j.gen
}

// Generation returns the current generation.
func (j *Join) Generation() Generation {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.gen
}

// Mark records that stream completed for gen. It reports whether this mark
// fired the ready callbacks. Repeated marks of one stream count once, and
// marks for other generations are ignored.
func (j *Join) Mark(stream Stream, gen Generation) (bool, error) {
	j.mu.Lock()
	if !j.isRequired(stream) {
		j.mu.Unlock()
		return false, fmt.Errorf("loadjoin: unknown stream %q", stream)
	}
	if gen != j.gen || j.fired {
		j.mu.Unlock()
		return false, nil
	}

	j.done[stream] = true
	if len(j.done) < len(j.required) {
		j.mu.Unlock()
		return false, nil
	}

	j.fired = true
	callbacks := append([]ReadyFunc(nil), j.onReady...)
	j.mu.Unlock()

	for _, fn := range callbacks {
		fn(gen)
	}
	return true, nil
}

// Ready reports whether the current generation has fired.
func (j *Join) Ready() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fired
}

// Pending returns the streams still awaited in the current generation.
func (j *Join) Pending() []Stream {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Stream
	for _, s := range j.required {
		if !j.done[s] {
			out = append(out, s)
		}
	}
	return out
}

func (j *Join) isRequired(s Stream) bool {
	for _, r := range j.required {
		if r == s {
			return true
		}
	}
	return false
}
