package engine

import (
	"sync"
	"time"

	"github.com/reeltime-audio/reeltime"
)

// CaptureKind tells what a recording session captures.
type CaptureKind int

const (
	CaptureAudio CaptureKind = iota
	CaptureNotes
)

func (k CaptureKind) String() string {
	if k == CaptureAudio {
		return "audio"
	}
	return "notes"
}

type (
	// Event is a recording lifecycle notification or an alert, delivered to
	// every subscribed observer. Multiple UI elements (visualizer, track
	// row, activity log) independently observe the same session, hence the
	// fan-out instead of a single return channel.
	Event interface{ event() }

	// CountdownStart is emitted when a count-in begins.
	CountdownStart struct {
		TrackID string
		Total   int
	}

	// CountdownTick is emitted once per count-in beat, Value counting down
	// from Total to 1. Ticks are strictly monotonic and always delivered
	// before the RecordingStart of the same session.
	CountdownTick struct {
		TrackID string
		Value   int
	}

	// CountdownComplete is emitted when the count-in finishes and capture is
	// about to begin.
	CountdownComplete struct {
		TrackID string
	}

	// RecordingStart carries the precise capture origin time, so that
	// visualizers and the schedulers agree on what t=0 of the take means.
	RecordingStart struct {
		TrackID       string
		Kind          CaptureKind
		StartTime     time.Time
		StartPosition float64
	}

	// RecordingStop is emitted on the transition back to idle, before the
	// finalized take event of the same session.
	RecordingStop struct {
		TrackID string
		Kind    CaptureKind
	}

	// AudioTakeReady delivers the finalized take of an audio session.
	AudioTakeReady struct {
		TrackID string
		Take    *reeltime.AudioTake
	}

	// NoteTakeReady delivers the finalized take of a note session.
	NoteTakeReady struct {
		TrackID string
		Take    *reeltime.NoteTake
	}

	// Alert is a non-fatal engine condition surfaced to the observers. An
	// alert with the same Name replaces the previous one in a front-end that
	// displays them.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
	}

	AlertPriority int
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

func (CountdownStart) event()    {}
func (CountdownTick) event()     {}
func (CountdownComplete) event() {}
func (RecordingStart) event()    {}
func (RecordingStop) event()     {}
func (AudioTakeReady) event()    {}
func (NoteTakeReady) event()     {}
func (Alert) event()             {}

// Events fans the broker's observer channel out to any number of
// subscribers. Delivery to a subscriber is non-blocking: a subscriber that
// stops draining its channel loses events rather than stalling the engine.
type Events struct {
	broker *Broker

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewEvents(broker *Broker) *Events {
	return &Events{broker: broker, subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (e *Events) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	ch := make(chan Event, 256)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// Run dispatches events until the broker asks it to close. Run it in its own
// goroutine; it closes FinishedDispatcher when done.
func (e *Events) Run() {
	defer close(e.broker.FinishedDispatcher)
	for {
		select {
		case <-e.broker.CloseDispatcher:
			e.mu.Lock()
			for id, c := range e.subs {
				delete(e.subs, id)
				close(c)
			}
			e.mu.Unlock()
			return
		case ev := <-e.broker.ToObservers:
			e.mu.Lock()
			for _, c := range e.subs {
				TrySend(c, ev)
			}
			e.mu.Unlock()
		}
	}
}
