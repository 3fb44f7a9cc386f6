package engine

import (
	"sync"
	"time"
)

// Transport is the single shared playback position of a session: the
// timeline time in seconds plus whether the session is rolling. It is
// read-mostly shared state; only one transport controller mutates it, every
// scheduler reads it each tick. The mutex is there because readers live on
// other goroutines, not because there are competing writers.
type Transport struct {
	clock Clock

	mu      sync.Mutex
	pos     float64
	playing bool
	started time.Time // clock time Play was called at
}

func NewTransport(clock Clock) *Transport {
	return &Transport{clock: clock}
}

// Play starts the transport rolling from the given timeline position.
func (t *Transport) Play(pos float64) {
	t.mu.Lock()
	t.pos = pos
	t.playing = true
	t.started = t.clock.Now()
	t.mu.Unlock()
}

// Stop halts the transport and returns the position it stopped at.
// Idempotent.
func (t *Transport) Stop() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		t.pos += t.clock.Now().Sub(t.started).Seconds()
		t.playing = false
	}
	return t.pos
}

// Seek repositions the transport, keeping it rolling if it was.
func (t *Transport) Seek(pos float64) {
	t.mu.Lock()
	t.pos = pos
	if t.playing {
		t.started = t.clock.Now()
	}
	t.mu.Unlock()
}

// Pos returns the current timeline position, extrapolated from the clock
// while playing.
func (t *Transport) Pos() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return t.pos
	}
	return t.pos + t.clock.Now().Sub(t.started).Seconds()
}

func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}
