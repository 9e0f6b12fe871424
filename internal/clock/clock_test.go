package clock

import (
	"testing"
	"time"
)

func TestVirtual_Now(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var real time.Duration
	v := NewVirtualWithSource(start, 60, func() time.Duration { return real })

	if got := v.Now(); !got.Equal(start) {
		t.Fatalf("Now at zero elapsed = %s, want %s", got, start)
	}

	real = 2 * time.Second
	if got, want := v.Now(), start.Add(2*time.Minute); !got.Equal(want) {
		t.Errorf("Now = %s, want %s", got, want)
	}
	if got := v.ElapsedMinutes(); got != 2 {
		t.Errorf("ElapsedMinutes = %v, want 2", got)
	}
}

func TestVirtual_nonPositiveSpeed(t *testing.T) {
	for _, speed := range []float64{0, -3} {
		v := NewVirtualWithSource(time.Time{}, speed, func() time.Duration { return time.Minute })
		if v.Speed() != 1 {
			t.Errorf("speed %v: Speed() = %v, want 1", speed, v.Speed())
		}
		if got := v.Now().Sub(v.Start()); got != time.Minute {
			t.Errorf("speed %v: advanced %s, want 1m", speed, got)
		}
	}
}

func TestRealInterval(t *testing.T) {
	tests := []struct {
		speed float64
		in    time.Duration
		want  time.Duration
	}{
		{1, 120 * time.Second, 120 * time.Second},
		{60, 120 * time.Second, 2 * time.Second},
		{0, 10 * time.Second, 10 * time.Second},
		{1e12, time.Second, time.Millisecond},
	}
	for _, tt := range tests {
		c := NewManual(time.Time{})
		c.SetSpeed(tt.speed)
		if got := RealInterval(c, tt.in); got != tt.want {
			t.Errorf("RealInterval(speed=%v, %s) = %s, want %s", tt.speed, tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(false, time.Time{}, 10).(System); !ok {
		t.Error("expected System clock when simulation is off")
	}
	v, ok := New(true, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 5).(*Virtual)
	if !ok {
		t.Fatal("expected Virtual clock when simulation is on")
	}
	if v.Speed() != 5 {
		t.Errorf("Speed = %v, want 5", v.Speed())
	}
}
