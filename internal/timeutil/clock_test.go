package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		// Ticker fired as expected
	case <-time.After(100 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_NowAndAdvance(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	clock.Advance(5 * time.Second)
	if got := clock.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Errorf("Now() after Advance = %v, want %v", got, start.Add(5*time.Second))
	}
}

func TestMockClock_Since(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(30 * time.Second)

	if d := clock.Since(start); d != 30*time.Second {
		t.Errorf("Since() = %v, want 30s", d)
	}
}

func TestMockClock_SleepRecordsDurations(t *testing.T) {
	clock := NewMockClock(time.Now())
	clock.Sleep(100 * time.Millisecond)
	clock.Sleep(50 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("got %d recorded sleeps, want 2", len(sleeps))
	}
	if sleeps[0] != 100*time.Millisecond || sleeps[1] != 50*time.Millisecond {
		t.Errorf("recorded sleeps = %v", sleeps)
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Now())
	ch := clock.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-ch:
		// fired as expected
	default:
		t.Error("After did not fire after the clock advanced past the deadline")
	}
}

func TestMockClock_TickerFiresRepeatedly(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire on first interval")
	}

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Error("ticker did not fire on second interval")
	}
}

func TestMockClock_StoppedTickerDoesNotFire(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}
