package state

import (
	"sync"
	"time"

	"github.com/signalsfoundry/station-keeper/core"
)

// DriftEvent records a tick on which the satellite was off course and a
// correction was applied while recording was enabled.
type DriftEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Position       core.Vec3 `json:"position"`
	ErrorMagnitude float64   `json:"error_magnitude"`
	Correction     core.Vec3 `json:"correction_vector"`
}

// HistoryRecorder is a concurrency-safe bounded drift history.
type HistoryRecorder struct {
	mu  sync.RWMutex
	log *Ring[DriftEvent]
}

// NewHistoryRecorder creates a recorder keeping at most maxSize events.
func NewHistoryRecorder(maxSize int) (*HistoryRecorder, error) {
	r, err := NewRing[DriftEvent](maxSize)
	if err != nil {
		return nil, err
	}
	return &HistoryRecorder{log: r}, nil
}

// Record appends a drift event, evicting the oldest when full.
func (h *HistoryRecorder) Record(ts time.Time, position core.Vec3, errorMagnitude float64, correction core.Vec3) DriftEvent {
	ev := DriftEvent{
		Timestamp:      ts,
		Position:       position,
		ErrorMagnitude: errorMagnitude,
		Correction:     correction,
	}
	h.mu.Lock()
	h.log.Push(ev)
	h.mu.Unlock()
	return ev
}

// All returns the recorded events, oldest first. The slice is a copy.
func (h *HistoryRecorder) All() []DriftEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.log.Slice()
}

// Clear empties the history.
func (h *HistoryRecorder) Clear() {
	h.mu.Lock()
	h.log.Reset()
	h.mu.Unlock()
}

// Len returns the number of stored events.
func (h *HistoryRecorder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.log.Len()
}

// Cap returns the configured maximum.
func (h *HistoryRecorder) Cap() int {
	return h.log.Cap()
}
