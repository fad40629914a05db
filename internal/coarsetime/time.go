// Package coarsetime is a clock refreshed every 50ms by a background
// goroutine. Engine pools read it on every release to track idle time.
package coarsetime

import (
	"sync/atomic"
	"time"
)

// Resolution is the refresh interval of the clock.
const Resolution = 50 * time.Millisecond

var now atomic.Pointer[time.Time]

func init() {
	t := time.Now()
	now.Store(&t)

	ticker := time.NewTicker(Resolution)
	go func() {
		for t := range ticker.C {
			now.Store(&t)
		}
	}()
}

// Now returns the current time, at most Resolution old.
func Now() time.Time {
	return *now.Load()
}

// Since returns the coarse time elapsed since t. It never returns a
// negative duration.
func Since(t time.Time) time.Duration {
	return max(Now().Sub(t), 0)
}
