// Package gomidi adapts MIDI hardware to the engine's capabilities: input
// ports become NoteInput streams for the recording coordinator, output ports
// become Instruments for the note scheduler.
package gomidi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/reeltime-audio/reeltime/engine"
)

type (
	Context struct {
		driver             *rtmididrv.Driver
		inputDevices       []Device
		devicesInitialized bool
	}

	Device struct {
		context *Context
		in      drivers.In
	}
)

// NewContext opens the MIDI driver. There is not much we can do if that
// fails, so driver == nil just means no devices will be found.
func NewContext() *Context {
	c := &Context{}
	c.driver, _ = rtmididrv.New()
	return c
}

func (c *Context) Close() {
	if c.driver != nil {
		c.driver.Close()
	}
}

// InputDevices iterates over the available input devices.
func (c *Context) InputDevices(yield func(Device) bool) {
	if c.devicesInitialized {
		for _, d := range c.inputDevices {
			if !yield(d) {
				break
			}
		}
		return
	}
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for _, in := range ins {
		d := Device{context: c, in: in}
		c.inputDevices = append(c.inputDevices, d)
		if !yield(d) {
			break
		}
	}
	c.devicesInitialized = true
}

func (d Device) String() string { return d.in.String() }

// Open claims the input port and starts translating its note messages into
// the engine's event stream. The returned capture owns the port until its
// Stop.
func (d Device) Open() (*Capture, error) {
	if d.context.driver == nil {
		return nil, errors.New("no MIDI driver available")
	}
	if err := d.in.Open(); err != nil {
		return nil, fmt.Errorf("opening MIDI input failed: %w", err)
	}
	capture := &Capture{in: d.in, events: make(chan engine.NoteEvent, 1024)}
	stop, err := midi.ListenTo(d.in, capture.handleMessage)
	if err != nil {
		d.in.Close()
		return nil, fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	capture.stopListen = stop
	return capture, nil
}

// TryToOpenBy opens the first input whose name starts with namePrefix, or
// just the first input when takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) (*Capture, error) {
	var found *Device
	c.InputDevices(func(d Device) bool {
		if takeFirst || strings.HasPrefix(d.String(), namePrefix) {
			found = &d
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("no MIDI input matching %q", namePrefix)
	}
	return found.Open()
}

// Capture is an open MIDI input stream; it implements engine.NoteInput.
type Capture struct {
	in         drivers.In
	stopListen func()
	mu         sync.Mutex
	closed     bool
	events     chan engine.NoteEvent
}

func (c *Capture) Events() <-chan engine.NoteEvent { return c.events }

// Stop releases the port and closes the event stream. The mutex keeps the
// close ordered against driver callbacks that are still in flight.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		if c.stopListen != nil {
			c.stopListen()
			c.stopListen = nil
		}
		close(c.events)
	}
	c.mu.Unlock()
	if c.in == nil {
		return nil
	}
	return c.in.Close()
}

func (c *Capture) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	var ev engine.NoteEvent
	switch {
	case msg.GetNoteStart(&channel, &key, &velocity):
		ev = engine.NoteEvent{On: true, Pitch: int(key), Velocity: float64(velocity) / 127, Time: time.Now()}
	case msg.GetNoteEnd(&channel, &key):
		ev = engine.NoteEvent{On: false, Pitch: int(key), Time: time.Now()}
	default:
		return
	}
	c.mu.Lock()
	if !c.closed {
		// if the channel is full, drop the message rather than block the driver
		engine.TrySend(c.events, ev)
	}
	c.mu.Unlock()
}

// Output is a MIDI output port playing the engine's notes; it implements
// reeltime.Instrument, so a note track can sound through external hardware
// or a soft synth listening on the port.
type Output struct {
	out     drivers.Out
	send    func(midi.Message) error
	channel uint8
}

// OpenOutputBy opens the first output whose name starts with namePrefix, or
// the first output when takeFirst is set.
func (c *Context) OpenOutputBy(namePrefix string, takeFirst bool, channel uint8) (*Output, error) {
	if c.driver == nil {
		return nil, errors.New("no MIDI driver available")
	}
	outs, err := c.driver.Outs()
	if err != nil {
		return nil, fmt.Errorf("listing MIDI outputs failed: %w", err)
	}
	for _, out := range outs {
		if !takeFirst && !strings.HasPrefix(out.String(), namePrefix) {
			continue
		}
		if err := out.Open(); err != nil {
			return nil, fmt.Errorf("opening MIDI output failed: %w", err)
		}
		send, err := midi.SendTo(out)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("sending to MIDI output failed: %w", err)
		}
		return &Output{out: out, send: send, channel: channel}, nil
	}
	return nil, fmt.Errorf("no MIDI output matching %q", namePrefix)
}

func (o *Output) PlayNote(pitch int, velocity float64) bool {
	if pitch < 0 || pitch > 127 {
		return false
	}
	vel := uint8(velocity * 127)
	if vel == 0 {
		vel = 1
	}
	o.send(midi.NoteOn(o.channel, uint8(pitch), vel))
	return true
}

func (o *Output) StopNote(pitch int) {
	if pitch < 0 || pitch > 127 {
		return
	}
	o.send(midi.NoteOff(o.channel, uint8(pitch)))
}

func (o *Output) StopAllNotes() {
	for pitch := 0; pitch < 128; pitch++ {
		o.send(midi.NoteOff(o.channel, uint8(pitch)))
	}
}

func (o *Output) Close() error {
	o.StopAllNotes()
	return o.out.Close()
}
