package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresDueTimersInOrder(t *testing.T) {
	c := NewFake(time.Time{})
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early-second") })

	c.Advance(500 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("nothing should fire before its deadline, got %v", fired)
	}
	c.Advance(2 * time.Second)
	want := []string{"early", "early-second", "late"}
	if len(fired) != len(want) {
		t.Fatalf("expected %v, got %v", want, fired)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, fired)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestFakeStopPreventsFiring(t *testing.T) {
	c := NewFake(time.Unix(100, 0))
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })
	if !timer.Stop() {
		t.Fatalf("expected first stop to report pending")
	}
	if timer.Stop() {
		t.Fatalf("second stop must report false")
	}
	c.Advance(time.Minute)
	if called {
		t.Fatalf("stopped timer fired")
	}
	if got := c.Now(); !got.Equal(time.Unix(160, 0)) {
		t.Fatalf("unexpected fake time %v", got)
	}
}

func TestFakeTimerScheduledFromCallback(t *testing.T) {
	c := NewFake(time.Time{})
	count := 0
	c.AfterFunc(time.Second, func() {
		count++
		c.AfterFunc(time.Second, func() { count++ })
	})
	c.Advance(time.Second)
	if count != 1 || c.Pending() != 1 {
		t.Fatalf("expected nested timer to stay pending, count=%d pending=%d", count, c.Pending())
	}
	c.Advance(time.Second)
	if count != 2 {
		t.Fatalf("expected nested timer to fire, count=%d", count)
	}
}

func TestRealClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("real timer did not fire")
	}
}
