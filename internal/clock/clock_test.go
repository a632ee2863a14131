package clock

import (
	"testing"
	"time"
)

func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 6, 3, 2, 59, 59, 0, time.UTC)
	c := Fake(start)

	ch := c.After(100 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-ch:
		if want := start.Add(100 * time.Millisecond); !got.Equal(want) {
			t.Errorf("fired at %v, want %v", got, want)
		}
	default:
		t.Fatal("After did not fire at deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeClock_NonPositiveAfterIsReady(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) not ready")
	}
}

func TestFakeClock_Set(t *testing.T) {
	c := Fake(time.Unix(100, 0))
	ch := c.After(time.Hour)

	c.Set(time.Unix(50, 0))
	if got := c.Now(); !got.Equal(time.Unix(50, 0)) {
		t.Fatalf("Now() = %v after Set", got)
	}
	select {
	case <-ch:
		t.Fatal("backwards Set fired a waiter")
	default:
	}

	c.Set(time.Unix(100+3600, 0))
	select {
	case <-ch:
	default:
		t.Fatal("Set past deadline did not fire")
	}
}
