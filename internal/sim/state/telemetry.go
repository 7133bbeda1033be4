// Package state holds the bounded telemetry, drift history and plot series
// recorded by the station-keeping loop.
package state

import (
	"sync"
	"time"

	"github.com/signalsfoundry/station-keeper/core"
)

// TelemetryEntry is a per-tick status snapshot.
type TelemetryEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	CurrentPosition core.Vec3 `json:"current_position"`
	TargetPosition  core.Vec3 `json:"target_position"`
	// ErrorMagnitude is |target - current|, recomputed at log time.
	ErrorMagnitude float64 `json:"error_magnitude"`
	// Correction is nil when the satellite was on course.
	Correction *core.Vec3 `json:"correction_vector"`
	OnCourse   bool       `json:"is_on_course"`
}

// TelemetryRecorder is a concurrency-safe bounded telemetry log.
type TelemetryRecorder struct {
	mu  sync.RWMutex
	log *Ring[TelemetryEntry]
}

// NewTelemetryRecorder creates a recorder keeping at most maxSize entries.
func NewTelemetryRecorder(maxSize int) (*TelemetryRecorder, error) {
	r, err := NewRing[TelemetryEntry](maxSize)
	if err != nil {
		return nil, err
	}
	return &TelemetryRecorder{log: r}, nil
}

// Log appends an entry for one tick and returns it. The error magnitude is
// computed from current and target here rather than taken from the controller.
func (t *TelemetryRecorder) Log(ts time.Time, current, target core.Vec3, correction *core.Vec3, onCourse bool) TelemetryEntry {
	var corr *core.Vec3
	if correction != nil {
		c := *correction
		corr = &c
	}
	entry := TelemetryEntry{
		Timestamp:       ts,
		CurrentPosition: current,
		TargetPosition:  target,
		ErrorMagnitude:  target.DistanceTo(current),
		Correction:      corr,
		OnCourse:        onCourse,
	}

	t.mu.Lock()
	t.log.Push(entry)
	t.mu.Unlock()

	return entry.clone()
}

// Latest returns the newest entry. ok is false when nothing has been logged.
func (t *TelemetryRecorder) Latest() (TelemetryEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.log.Last()
	if !ok {
		return TelemetryEntry{}, false
	}
	return e.clone(), true
}

// All returns copies of the stored entries, oldest first.
func (t *TelemetryRecorder) All() []TelemetryEntry {
	t.mu.RLock()
	out := t.log.Slice()
	t.mu.RUnlock()
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

// Len returns the number of stored entries.
func (t *TelemetryRecorder) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.log.Len()
}

// Cap returns the configured maximum.
func (t *TelemetryRecorder) Cap() int {
	return t.log.Cap()
}

// clone detaches the correction pointer so callers cannot reach stored state.
func (e TelemetryEntry) clone() TelemetryEntry {
	if e.Correction != nil {
		c := *e.Correction
		e.Correction = &c
	}
	return e
}
