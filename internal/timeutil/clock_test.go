package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Sleep(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(5 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("Sleep returned after %v, want >= 5ms", elapsed)
	}
}

func TestMockClock_SleepRecordsAndAdvances(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	c.Sleep(500 * time.Millisecond)
	c.Sleep(100 * time.Millisecond)

	if got, want := c.Now(), base.Add(600*time.Millisecond); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}

	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 500*time.Millisecond || sleeps[1] != 100*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [500ms 100ms]", sleeps)
	}

	// the returned slice is a copy
	sleeps[0] = 0
	if c.Sleeps()[0] != 500*time.Millisecond {
		t.Error("Sleeps() exposed internal slice")
	}
}

func TestMockClock_Advance(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(base.Add(time.Hour)) {
		t.Errorf("Now() = %v after Advance(1h)", got)
	}
	if len(c.Sleeps()) != 0 {
		t.Error("Advance should not record a sleep")
	}
}

func TestMockClock_OnSleepHook(t *testing.T) {
	c := NewMockClock(time.Time{})
	var seen []time.Duration
	c.OnSleep(func(d time.Duration) {
		seen = append(seen, d)
	})
	c.Sleep(10 * time.Millisecond)
	c.Sleep(20 * time.Millisecond)
	if len(seen) != 2 || seen[1] != 20*time.Millisecond {
		t.Errorf("hook saw %v, want [10ms 20ms]", seen)
	}
}
