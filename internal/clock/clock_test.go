package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(time.Minute, func() { order = append(order, "a") })
	c.AfterFunc(time.Hour, func() { order = append(order, "late") })

	c.Advance(90 * time.Second)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 90s order = %v, want [a]", order)
	}

	c.Advance(time.Minute)
	if len(order) != 2 || order[1] != "b" {
		t.Fatalf("after 150s order = %v, want [a b]", order)
	}

	if got := c.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	if got := c.Now(); !got.Equal(start.Add(150 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(150*time.Second))
	}
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() on armed timer = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_StopAfterFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	timer := c.AfterFunc(0, func() {})
	c.Advance(0)
	if timer.Stop() {
		t.Error("Stop() after fire = true, want false")
	}
}

func TestFake_TimerArmedDuringFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	nested := false
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { nested = true })
	})

	c.Advance(time.Second)
	if nested {
		t.Fatal("nested timer fired in the same Advance")
	}
	c.Advance(time.Second)
	if !nested {
		t.Error("nested timer did not fire")
	}
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}
