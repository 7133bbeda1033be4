package timectrl

import "sync"

// Phase is the run state of the control loop.
type Phase int32

const (
	// Stopped is the initial state; no loop goroutine is running.
	Stopped Phase = iota
	// Running executes one tick per period.
	Running
	// Paused keeps the loop goroutine alive without doing simulation work.
	Paused
)

func (p Phase) String() string {
	switch p {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Controls is the single synchronized holder of the run, pause and record
// flags shared between the loop goroutine and presentation shells. Every
// transition wakes goroutines blocked on Changed.
type Controls struct {
	mu        sync.RWMutex
	phase     Phase
	recording bool
	changed   chan struct{}
}

// NewControls returns controls in the Stopped phase with recording off.
func NewControls() *Controls {
	return &Controls{changed: make(chan struct{})}
}

// Phase returns the current run phase.
func (c *Controls) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Recording reports whether drift history recording is enabled.
func (c *Controls) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

// TogglePause flips Running and Paused. It has no effect while Stopped and
// reports whether a transition happened.
func (c *Controls) TogglePause() (Phase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case Running:
		c.setLocked(Paused)
	case Paused:
		c.setLocked(Running)
	default:
		return c.phase, false
	}
	return c.phase, true
}

// ToggleRecording flips the recording flag and returns the new value.
func (c *Controls) ToggleRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = !c.recording
	c.notifyLocked()
	return c.recording
}

// SetRecording forces the recording flag.
func (c *Controls) SetRecording(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording != on {
		c.recording = on
		c.notifyLocked()
	}
}

// Changed returns a channel closed on the next flag transition.
func (c *Controls) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// transition moves to phase `to` if the current phase is one of from. It
// returns the phase observed before the call and whether it moved.
func (c *Controls) transition(to Phase, from ...Phase) (Phase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.phase
	for _, f := range from {
		if prev == f {
			c.setLocked(to)
			return prev, true
		}
	}
	return prev, false
}

func (c *Controls) setLocked(p Phase) {
	if c.phase == p {
		return
	}
	c.phase = p
	c.notifyLocked()
}

func (c *Controls) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
