package timectrl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start when a loop goroutine is live.
	ErrAlreadyRunning = errors.New("control loop already running")
	// ErrNotRunning is returned by Stop when no loop goroutine is live.
	ErrNotRunning = errors.New("control loop not running")
	// ErrStopTimeout is returned when the loop goroutine fails to exit within
	// the allotted wait.
	ErrStopTimeout = errors.New("control loop did not stop in time")
	// ErrInvalidTick is returned when the tick period is not positive.
	ErrInvalidTick = errors.New("tick period must be positive")
)

// SimClock gives components access to simulation time without depending on
// the concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController paces ticks.
type Mode int

const (
	// RealTime sleeps the remainder of each tick period.
	RealTime Mode = iota
	// Accelerated runs ticks back to back while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// ParseMode maps "realtime" and "accelerated" to a Mode. Config validation
// uses it, so these are the only accepted names.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "realtime":
		return RealTime, nil
	case "accelerated":
		return Accelerated, nil
	default:
		return RealTime, fmt.Errorf("unknown mode %q", s)
	}
}

// TimeController drives the fixed-rate control loop and notifies registered
// listeners once per tick. Pause and stop requests go through its Controls.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	ticks       uint64

	listeners []func(time.Time)
	controls  *Controls

	stop chan struct{}
	done chan struct{}
}

// NewTimeController constructs a stopped controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) (*TimeController, error) {
	if tick <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTick, tick)
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		controls:    NewControls(),
	}, nil
}

// Controls returns the shared flag object.
func (tc *TimeController) Controls() *Controls {
	return tc.controls
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Ticks returns the number of ticks executed so far.
func (tc *TimeController) Ticks() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked on the loop goroutine after each
// tick. Listeners must return promptly.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start launches the loop goroutine and moves the controls to Running. The
// loop exits when ctx is cancelled, Stop is called, or, for a positive
// duration, once that much simulation time has elapsed. Simulation time
// continues from where a previous run left off. The returned channel is
// closed when the goroutine exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) (<-chan struct{}, error) {
	tc.mu.Lock()
	if tc.done != nil {
		select {
		case <-tc.done:
		default:
			tc.mu.Unlock()
			return nil, ErrAlreadyRunning
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	tc.stop, tc.done = stop, done
	tc.mu.Unlock()

	tc.controls.transition(Running, Stopped)

	go func() {
		defer close(done)
		defer tc.controls.transition(Stopped, Running, Paused)
		tc.run(ctx, duration, stop)
	}()
	return done, nil
}

// Stop requests the loop to exit and waits up to timeout for it to do so. A
// tick already in progress completes first.
func (tc *TimeController) Stop(timeout time.Duration) error {
	tc.mu.Lock()
	stop, done := tc.stop, tc.done
	if done == nil {
		tc.mu.Unlock()
		return ErrNotRunning
	}
	select {
	case <-done:
		tc.mu.Unlock()
		return ErrNotRunning
	default:
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	tc.mu.Unlock()

	tc.controls.transition(Stopped, Running, Paused)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrStopTimeout, timeout)
	}
}

// Running reports whether a loop goroutine is live.
func (tc *TimeController) Running() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.done == nil {
		return false
	}
	select {
	case <-tc.done:
		return false
	default:
		return true
	}
}

func (tc *TimeController) run(ctx context.Context, duration time.Duration, stop <-chan struct{}) {
	var elapsed time.Duration
	for {
		if duration > 0 && elapsed >= duration {
			return
		}

		changed := tc.controls.Changed()
		switch tc.controls.Phase() {
		case Stopped:
			return
		case Paused:
			select {
			case <-changed:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		began := time.Now()

		tc.mu.Lock()
		tc.currentTime = tc.currentTime.Add(tc.Tick)
		tc.ticks++
		simTime := tc.currentTime
		listeners := slices.Clone(tc.listeners)
		tc.mu.Unlock()
		elapsed += tc.Tick

		for _, fn := range listeners {
			fn(simTime)
		}

		if tc.Mode != RealTime {
			continue
		}
		remaining := tc.Tick - time.Since(began)
		if remaining <= 0 {
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
