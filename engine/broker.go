package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/reeltime-audio/reeltime"
)

type (
	// Broker is the centralized message hub for one engine session. It is
	// many-to-one communication, implemented with one channel per recipient:
	// the event dispatcher (observers of the recording lifecycle and alerts)
	// and the ingest worker. Additionally, the broker has a sync.Pool of
	// *reeltime.AudioBuffer, from which the schedulers can borrow and return
	// buffers without allocating new memory every render.
	//
	// For closing goroutines, the broker has two channels for each: CloseXXX
	// and FinishedXXX. The CloseXXX channel has a capacity of 1, so you can
	// always send an empty struct{}{} to it without blocking; if the channel
	// is already full, someone else has already requested the closure and
	// dropping the message is fine. FinishedXXX is never sent to, only
	// closed, so "<-FinishedXXX" waits until the goroutine has cleaned up;
	// combine with TimeoutReceive to avoid deadlocks.
	Broker struct {
		ToObservers chan Event

		CloseDispatcher    chan struct{}
		CloseIngest        chan struct{}
		FinishedDispatcher chan struct{}
		FinishedIngest     chan struct{}

		bufferPool sync.Pool
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToObservers:        make(chan Event, 1024),
		CloseDispatcher:    make(chan struct{}, 1),
		CloseIngest:        make(chan struct{}, 1),
		FinishedDispatcher: make(chan struct{}),
		FinishedIngest:     make(chan struct{}),
		bufferPool:         sync.Pool{New: func() any { return &reeltime.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns an empty audio buffer from the buffer pool. After
// use it should be returned with PutAudioBuffer.
func (b *Broker) GetAudioBuffer() *reeltime.AudioBuffer {
	return b.bufferPool.Get().(*reeltime.AudioBuffer)
}

// PutAudioBuffer returns an audio buffer to the buffer pool, resetting its
// length (but keeping the capacity) if needed.
func (b *Broker) PutAudioBuffer(buf *reeltime.AudioBuffer) {
	if len(*buf) > 0 {
		*buf = (*buf)[:0]
	}
	b.bufferPool.Put(buf)
}

// Alert surfaces a non-fatal engine condition to whatever front-end is
// observing the session. Engine goroutines must never block on reporting, so
// the send is best effort.
func (b *Broker) Alert(name string, priority AlertPriority, format string, args ...any) {
	TrySend(b.ToObservers, Event(Alert{
		Name:     name,
		Priority: priority,
		Message:  fmt.Sprintf(format, args...),
	}))
}

// TrySend is a helper function to send a value to a channel if it is not
// full. It is guaranteed to be non-blocking. Returns true if the value was
// sent, false otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received from the channel, or times
// out after t. ok is false if the timeout occurred or the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
