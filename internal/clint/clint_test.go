package clint

import "testing"

func TestTickFiresAtDeadline(t *testing.T) {
	c := New()
	c.Settimer(3)
	for i := 0; i < 2; i++ {
		if c.Tick() {
			t.Fatalf("fired too early at tick %d", i)
		}
	}
	if !c.Tick() {
		t.Fatal("expected timer to fire on the 3rd tick")
	}
}

func TestNowTracksTicks(t *testing.T) {
	c := New()
	c.Tick()
	c.Tick()
	if c.Now() != 2 {
		t.Fatalf("expected Now()==2, got %d", c.Now())
	}
}
