// Package clock provides the time sources used for scheduling and staleness
// checks. Components never call time.Now directly; they ask a Clock.
package clock

import (
	"sync"
	"time"
)

// Clock is a source of "now" plus the rate at which simulated time passes
// relative to real time.
type Clock interface {
	Now() time.Time
	Speed() float64
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

func (System) Speed() float64 { return 1 }

// Virtual runs simulated time forward from a fixed start instant at a
// multiple of real elapsed time.
type Virtual struct {
	start   time.Time
	speed   float64
	elapsed func() time.Duration
}

// NewVirtual returns a Virtual clock that starts at start and advances speed
// times faster than real time, measured from the moment of construction.
// A speed <= 0 is treated as 1.
func NewVirtual(start time.Time, speed float64) *Virtual {
	origin := time.Now()
	return NewVirtualWithSource(start, speed, func() time.Duration { return time.Since(origin) })
}

// NewVirtualWithSource is NewVirtual with an explicit real-elapsed source.
func NewVirtualWithSource(start time.Time, speed float64, elapsed func() time.Duration) *Virtual {
	if speed <= 0 {
		speed = 1
	}
	return &Virtual{start: start.UTC(), speed: speed, elapsed: elapsed}
}

func (v *Virtual) Now() time.Time {
	return v.start.Add(v.Simulated(v.elapsed()))
}

func (v *Virtual) Speed() float64 { return v.speed }

// Start is the simulated instant the clock was created at.
func (v *Virtual) Start() time.Time { return v.start }

// Simulated converts a real duration into simulated time.
func (v *Virtual) Simulated(real time.Duration) time.Duration {
	return time.Duration(float64(real) * v.speed)
}

// ElapsedMinutes is the simulated time passed since Start, in minutes.
func (v *Virtual) ElapsedMinutes() float64 {
	return v.Now().Sub(v.start).Minutes()
}

// RealInterval converts a simulated interval into the real duration a timer
// has to wait for it.
func RealInterval(c Clock, simulated time.Duration) time.Duration {
	speed := c.Speed()
	if speed <= 0 || speed == 1 {
		return simulated
	}
	d := time.Duration(float64(simulated) / speed)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Manual is a Clock that only moves when told to. Used in tests.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	speed float64
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now, speed: 1}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

func (m *Manual) SetSpeed(speed float64) {
	m.mu.Lock()
	m.speed = speed
	m.mu.Unlock()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// New picks the clock for a process: Virtual when simulation is enabled,
// System otherwise.
func New(simulated bool, start time.Time, speed float64) Clock {
	if !simulated {
		return System{}
	}
	if start.IsZero() {
		start = time.Now()
	}
	return NewVirtual(start, speed)
}
