package scanloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRunStops(t *testing.T) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	var calls atomic.Int64

	go func() {
		Run(stopCh, 5*time.Millisecond, 5*time.Millisecond, func() {
			calls.Add(1)
		})
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	close(stopCh)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if calls.Load() == 0 {
		t.Error("fn never called")
	}
}

func TestRunEveryCadence(t *testing.T) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	var calls atomic.Int64

	go func() {
		RunEvery(stopCh, 10*time.Millisecond, func() {
			calls.Add(1)
		})
		close(done)
	}()

	time.Sleep(105 * time.Millisecond)
	close(stopCh)
	<-done

	// ~10 ticks in 105ms; allow generous slack for slow CI.
	got := calls.Load()
	if got < 3 || got > 12 {
		t.Errorf("calls = %d, want roughly 10", got)
	}
}
