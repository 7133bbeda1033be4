package state

import "sync"

// SeriesSnapshot is a copy of the plot buffers, oldest first.
type SeriesSnapshot struct {
	Distances   []float64 `json:"distances"`
	Corrections []int     `json:"corrections"`
}

// Series keeps the most recent sensed distances and cumulative correction
// counts for live charts.
type Series struct {
	mu          sync.RWMutex
	distances   *Ring[float64]
	corrections *Ring[int]
}

// NewSeries creates plot buffers holding at most maxPoints samples each.
func NewSeries(maxPoints int) (*Series, error) {
	d, err := NewRing[float64](maxPoints)
	if err != nil {
		return nil, err
	}
	c, err := NewRing[int](maxPoints)
	if err != nil {
		return nil, err
	}
	return &Series{distances: d, corrections: c}, nil
}

// Append adds one tick's sample to both buffers.
func (s *Series) Append(distance float64, totalCorrections int) {
	s.mu.Lock()
	s.distances.Push(distance)
	s.corrections.Push(totalCorrections)
	s.mu.Unlock()
}

// Snapshot copies both buffers.
func (s *Series) Snapshot() SeriesSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SeriesSnapshot{
		Distances:   s.distances.Slice(),
		Corrections: s.corrections.Slice(),
	}
}
