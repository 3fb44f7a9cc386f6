package engine

import (
	"sync"
	"time"
)

// Clock is the monotonic time source every scheduler converts against. The
// indirection exists so tests can drive the schedulers without sleeping on
// real time.
type Clock interface {
	Now() time.Time
}

// WallClock is the real time clock used in production.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{t: time.Unix(0, 0)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
