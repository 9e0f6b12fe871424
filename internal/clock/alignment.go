package clock

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrNonPositiveInterval = errors.New("interval must be positive")

// exactHitEpsilon pushes an instant sitting exactly on a boundary to the next one.
const exactHitEpsilon = 0.1

const secondsPerHour = 3600

// NextAligned returns the first grid instant strictly after t. The grid
// restarts at the top of every hour; intervals may be fractional minutes.
func NextAligned(t time.Time, intervalMinutes float64) (time.Time, error) {
	iv, err := intervalSeconds(intervalMinutes)
	if err != nil {
		return time.Time{}, err
	}
	hour := hourStart(t)
	s := float64(secondsInHour(t))
	next := math.Ceil((s+exactHitEpsilon)/iv) * iv
	if next >= secondsPerHour {
		return hour.Add(time.Hour), nil
	}
	return hour.Add(secondsToDuration(next)), nil
}

// LastAligned returns the latest grid instant at or before t.
func LastAligned(t time.Time, intervalMinutes float64) (time.Time, error) {
	iv, err := intervalSeconds(intervalMinutes)
	if err != nil {
		return time.Time{}, err
	}
	s := float64(secondsInHour(t))
	return hourStart(t).Add(secondsToDuration(math.Floor(s/iv) * iv)), nil
}

// IsAligned reports whether t sits on the grid, or at most tolerance before
// the next boundary.
func IsAligned(t time.Time, intervalMinutes float64, tolerance time.Duration) (bool, error) {
	iv, err := intervalSeconds(intervalMinutes)
	if err != nil {
		return false, err
	}
	rem := math.Mod(float64(secondsInHour(t)), iv)
	return rem == 0 || rem >= iv-tolerance.Seconds(), nil
}

// Aligner answers alignment questions relative to a Clock's current time.
type Aligner struct {
	clock Clock
}

func NewAligner(c Clock) *Aligner {
	return &Aligner{clock: c}
}

func (a *Aligner) Next(intervalMinutes float64) (time.Time, error) {
	return NextAligned(a.clock.Now(), intervalMinutes)
}

func (a *Aligner) Last(intervalMinutes float64) (time.Time, error) {
	return LastAligned(a.clock.Now(), intervalMinutes)
}

func (a *Aligner) IsAligned(intervalMinutes float64) (bool, error) {
	return IsAligned(a.clock.Now(), intervalMinutes, time.Second)
}

// UntilNext is the real time to wait before the next boundary is reached.
func (a *Aligner) UntilNext(intervalMinutes float64) (time.Duration, error) {
	now := a.clock.Now()
	next, err := NextAligned(now, intervalMinutes)
	if err != nil {
		return 0, err
	}
	return RealInterval(a.clock, next.Sub(now)), nil
}

func intervalSeconds(intervalMinutes float64) (float64, error) {
	if intervalMinutes <= 0 || math.IsNaN(intervalMinutes) {
		return 0, fmt.Errorf("%w: %v minutes", ErrNonPositiveInterval, intervalMinutes)
	}
	return intervalMinutes * 60, nil
}

// secondsInHour ignores sub-second precision.
func secondsInHour(t time.Time) int {
	return t.Minute()*60 + t.Second()
}

func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
