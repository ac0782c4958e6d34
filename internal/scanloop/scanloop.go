// Package scanloop runs a function on a jittered interval until stopped.
package scanloop

import (
	"math/rand/v2"
	"time"
)

// Run executes fn until stopCh is closed, waiting minInterval plus a random
// slice of [0, jitterRange) before each call.
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	for {
		wait := minInterval
		if jitterRange > 0 {
			wait += rand.N(jitterRange)
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		fn()
	}
}

// RunEvery executes fn on a fixed cadence until stopCh is closed.
func RunEvery(stopCh <-chan struct{}, interval time.Duration, fn func()) {
	Run(stopCh, interval, 0, fn)
}
