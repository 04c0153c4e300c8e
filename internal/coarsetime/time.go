// Package coarsetime is a clock refreshed every Resolution by a background
// goroutine. Reading it costs an atomic load, which matters on the pool's
// release path. Readings lag the wall clock by up to Resolution.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

const Resolution = 50 * time.Millisecond

var (
	nanos atomic.Int64
	start sync.Once
)

func run() {
	nanos.Store(time.Now().UnixNano())

	ticker := time.NewTicker(Resolution)
	go func() {
		for t := range ticker.C {
			nanos.Store(t.UnixNano())
		}
	}()
}

// Now returns the current coarse time. The clock starts on first use.
func Now() time.Time {
	start.Do(run)
	return time.Unix(0, nanos.Load())
}

// Since is the coarse equivalent of time.Since. It never returns a negative
// duration.
func Since(t time.Time) time.Duration {
	d := Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}
