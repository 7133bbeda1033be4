package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/station-keeper/core"
)

func TestTelemetryRecorder_LatestEmpty(t *testing.T) {
	r, err := NewTelemetryRecorder(3)
	if err != nil {
		t.Fatalf("NewTelemetryRecorder: %v", err)
	}
	if _, ok := r.Latest(); ok {
		t.Fatalf("Latest() on empty recorder should report ok=false")
	}
}

func TestTelemetryRecorder_InvalidSize(t *testing.T) {
	if _, err := NewTelemetryRecorder(0); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("NewTelemetryRecorder(0) error = %v, want ErrInvalidCapacity", err)
	}
}

func TestTelemetryRecorder_ComputesErrorMagnitude(t *testing.T) {
	r, _ := NewTelemetryRecorder(10)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	corr := core.Vec3{X: -1}

	got := r.Log(ts, core.Vec3{X: 3, Y: 4}, core.Vec3{}, &corr, false)

	if got.ErrorMagnitude != 5 {
		t.Fatalf("ErrorMagnitude = %v, want 5", got.ErrorMagnitude)
	}
	latest, ok := r.Latest()
	if !ok {
		t.Fatalf("Latest() ok = false after Log")
	}
	if !latest.Timestamp.Equal(ts) || latest.OnCourse || latest.Correction == nil || *latest.Correction != corr {
		t.Fatalf("Latest() = %+v, want logged entry", latest)
	}
}

func TestTelemetryRecorder_EntriesAreImmutable(t *testing.T) {
	r, _ := NewTelemetryRecorder(2)
	corr := core.Vec3{X: 1}
	r.Log(time.Now(), core.Vec3{}, core.Vec3{}, &corr, false)

	// Neither the caller's vector nor a returned copy may reach stored state.
	corr.X = 99
	e, _ := r.Latest()
	e.Correction.X = 42

	again, _ := r.Latest()
	if again.Correction.X != 1 {
		t.Fatalf("stored correction = %v, want 1", again.Correction.X)
	}
}

func TestTelemetryRecorder_OnCourseHasNilCorrection(t *testing.T) {
	r, _ := NewTelemetryRecorder(2)
	e := r.Log(time.Now(), core.Vec3{X: 1}, core.Vec3{X: 1}, nil, true)
	if e.Correction != nil || !e.OnCourse || e.ErrorMagnitude != 0 {
		t.Fatalf("entry = %+v, want on-course entry with nil correction", e)
	}
}

func TestTelemetryRecorder_BoundedEviction(t *testing.T) {
	const max = 4
	r, _ := NewTelemetryRecorder(max)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		r.Log(start.Add(time.Duration(i)*time.Second), core.Vec3{X: float64(i)}, core.Vec3{}, nil, true)
	}

	all := r.All()
	if len(all) != max || r.Len() != max {
		t.Fatalf("len = %d / Len() = %d, want %d", len(all), r.Len(), max)
	}
	for i, e := range all {
		if want := float64(6 + i); e.CurrentPosition.X != want {
			t.Fatalf("entry %d X = %v, want %v", i, e.CurrentPosition.X, want)
		}
	}
}

func TestTelemetryRecorder_ConcurrentAppendAndRead(t *testing.T) {
	r, _ := NewTelemetryRecorder(16)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Log(time.Now(), core.Vec3{X: float64(i)}, core.Vec3{}, nil, true)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, _ = r.Latest()
			if n := len(r.All()); n > 16 {
				t.Errorf("All() returned %d entries, cap 16", n)
				return
			}
		}
	}()
	wg.Wait()
}
