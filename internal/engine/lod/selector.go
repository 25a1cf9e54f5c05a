package lod

import (
	"fmt"
	"sort"
	"sync"
)

// Selector maps camera distance to a level. Thresholds are ascending; a
// distance beyond the i-th threshold selects level i+1.
type Selector struct {
	thresholds []float64
	levels     int
}

// NewSelector validates thresholds against the level count.
func NewSelector(thresholds []float64, levels int) (*Selector, error) {
	if levels < 1 {
		return nil, fmt.Errorf("level count %d: %w", levels, ErrInvalidGeometry)
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("lod thresholds must be strictly ascending: %v", thresholds)
		}
	}
	return &Selector{thresholds: append([]float64(nil), thresholds...), levels: levels}, nil
}

// Level returns the level for distance. It never decreases as distance
// grows and is capped at the level count.
func (s *Selector) Level(distance float64) int {
	// Number of thresholds strictly below distance.
	n := sort.Search(len(s.thresholds), func(i int) bool { return s.thresholds[i] >= distance })
	return min(1+n, s.levels)
}

// Manager holds a built mesh and its active draw range.
type Manager struct {
	mesh     *Mesh
	selector *Selector

	mu     sync.RWMutex
	active Range
}

// NewManager starts at level 1.
func NewManager(mesh *Mesh, selector *Selector) *Manager {
	return &Manager{mesh: mesh, selector: selector, active: mesh.Table[0]}
}

// Mesh returns the merged geometry.
func (m *Manager) Mesh() *Mesh {
	return m.mesh
}

// Apply makes level the active draw range. Unknown levels fail with
// ErrUnknownLevel and leave the active range unchanged.
func (m *Manager) Apply(level int) error {
	r, err := m.mesh.Level(level)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active = r
	m.mu.Unlock()
	return nil
}

// Select picks the level for distance and applies it.
func (m *Manager) Select(distance float64) (int, error) {
	if m.selector == nil {
		return 0, fmt.Errorf("lod: no selector configured")
	}
	level := m.selector.Level(distance)
	return level, m.Apply(level)
}

// Active returns the current draw range.
func (m *Manager) Active() Range {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}
