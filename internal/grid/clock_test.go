package grid

import (
	"sync/atomic"
	"time"
)

// atomic64 is a goroutine-safe fake wall clock.
type atomic64 struct {
	ns atomic.Int64
}

func (c *atomic64) set(t time.Time) { c.ns.Store(t.UnixNano()) }

func (c *atomic64) get() time.Time { return time.Unix(0, c.ns.Load()).In(time.Local) }
