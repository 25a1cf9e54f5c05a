package loadjoin

import (
	"sync"
	"testing"
)

func newJoin(t *testing.T, streams ...Stream) (*Join, *[]Generation) {
	t.Helper()
	j, err := New(streams...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var fired []Generation
	j.OnReady(func(gen Generation) { fired = append(fired, gen) })
	return j, &fired
}

func TestFiresOnceWhenBothStreamsMark(t *testing.T) {
	j, fired := newJoin(t, Imagery, Elevation)
	gen := j.Generation()

	if ok, _ := j.Mark(Elevation, gen); ok {
		t.Error("expected first mark not to fire")
	}
	ok, err := j.Mark(Imagery, gen)
	if err != nil || !ok {
		t.Fatalf("expected second stream to fire, got %v %v", ok, err)
	}
	if ok, _ := j.Mark(Imagery, gen); ok {
		t.Error("expected no second firing in the same generation")
	}

	if len(*fired) != 1 || (*fired)[0] != gen {
		t.Errorf("expected one firing for generation %d, got %v", gen, *fired)
	}
	if !j.Ready() {
		t.Error("expected join to be ready")
	}
}

func TestRepeatedMarksOfOneStreamNeverFire(t *testing.T) {
	j, fired := newJoin(t, Imagery, Elevation)
	gen := j.Generation()

	for i := 0; i < 6; i++ {
		j.Mark(Imagery, gen)
	}
	if len(*fired) != 0 {
		t.Errorf("expected no firing, got %v", *fired)
	}
	if p := j.Pending(); len(p) != 1 || p[0] != Elevation {
		t.Errorf("expected elevation pending, got %v", p)
	}
}

func TestArmStartsNewCycle(t *testing.T) {
	j, fired := newJoin(t, Imagery, Elevation)
	first := j.Generation()
	j.Mark(Imagery, first)
	j.Mark(Elevation, first)

	second := j.Arm()
	if second <= first {
		t.Fatalf("expected generation to advance, got %d after %d", second, first)
	}
	if j.Ready() {
		t.Error("expected re-armed join not to be ready")
	}

	// A straggler from the old view must not count.
	j.Mark(Elevation, first)
	j.Mark(Imagery, second)
	if len(*fired) != 1 {
		t.Fatalf("expected stale mark to be ignored, got %v", *fired)
	}

	j.Mark(Elevation, second)
	if len(*fired) != 2 || (*fired)[1] != second {
		t.Errorf("expected second cycle to fire, got %v", *fired)
	}
}

func TestSingleStreamJoin(t *testing.T) {
	j, fired := newJoin(t, Imagery)
	if ok, _ := j.Mark(Imagery, j.Generation()); !ok {
		t.Error("expected single stream to fire immediately")
	}
	if len(*fired) != 1 {
		t.Errorf("expected one firing, got %d", len(*fired))
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(); err == nil {
		t.Error("expected error without streams")
	}
	if _, err := New(Imagery, Imagery); err == nil {
		t.Error("expected error for duplicate stream")
	}

	j, _ := New(Imagery)
	if _, err := j.Mark(Elevation, j.Generation()); err == nil {
		t.Error("expected error for unknown stream")
	}
}

func TestConcurrentMarksFireOnce(t *testing.T) {
	j, err := New(Imagery, Elevation)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	count := 0
	j.OnReady(func(Generation) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	gen := j.Generation()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); j.Mark(Imagery, gen) }()
		go func() { defer wg.Done(); j.Mark(Elevation, gen) }()
	}
	wg.Wait()

	if count != 1 {
		t.Errorf("expected exactly one firing, got %d", count)
	}
}
