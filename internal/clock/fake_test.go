package clock

import (
	"testing"
	"time"
)

func TestFakeAfter(t *testing.T) {
	fc := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ch := fc.After(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before Advance")
	default:
	}

	fc.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	fc.Advance(time.Second)
	select {
	case fired := <-ch:
		want := time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)
		if !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fc := Fake(time.Unix(0, 0))
	select {
	case <-fc.After(0):
	default:
		t.Fatal("After(0) must fire immediately")
	}
}

func TestAwaitWaiters(t *testing.T) {
	fc := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		fc.AwaitWaiters(1)
		close(done)
	}()
	fc.After(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitWaiters did not observe the waiter")
	}
}
