package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/reeltime-audio/reeltime"
)

type (
	// RecordingCoordinator owns the lifecycle of recording sessions, one per
	// track at most, including the optional count-in, and delivers exactly
	// one finalized take per successful session. It is constructed per
	// project session and passed to the tracks by reference; its lifetime is
	// the session's, not the process's.
	RecordingCoordinator struct {
		mu       sync.Mutex
		clock    Clock
		broker   *Broker
		decoder  reeltime.Decoder
		cfg      Config
		sessions map[string]*recSession
	}

	// RecordingOptions enumerates the recognized options of one recording
	// session. The zero value is a valid "just record" request.
	RecordingOptions struct {
		// StartPosition is the timeline position (seconds) the take will be
		// placed at.
		StartPosition float64
		// CountInBeats is the number of count-in beats before capture
		// begins; 0 uses no count-in.
		CountInBeats int
		// Tempo (BPM) of the session; drives the count-in interval and the
		// beat conversion of captured notes. Defaults to 120.
		Tempo float64
		// Overdub makes a note take merge into the existing collection
		// instead of replacing it; carried on the take for the track to act
		// on.
		Overdub bool
		// QuantizeGrid, when positive, snaps recorded note starts to this
		// grid (in beats) at finalization.
		QuantizeGrid float64
	}

	// AudioCapture is an acquired audio input stream: raw little-endian
	// stereo float32 chunks. The chunk channel closing before Stop means the
	// device was lost; the take is then truncated to the data captured so
	// far rather than discarded.
	AudioCapture interface {
		Chunks() <-chan []byte
		Stop() error
	}

	// NoteInput is an acquired note-event stream (e.g. a MIDI keyboard).
	NoteInput interface {
		Events() <-chan NoteEvent
		Stop() error
	}

	// NoteEvent is one raw key transition from a note input device.
	NoteEvent struct {
		On       bool
		Pitch    int
		Velocity float64
		Time     time.Time
	}

	// OpenAudioFunc acquires the audio input device for a session. It is
	// called exactly once per StartAudioRecording and its failure aborts the
	// start with no observable state transition.
	OpenAudioFunc func() (AudioCapture, error)

	// OpenNotesFunc acquires the note input device for a session.
	OpenNotesFunc func() (NoteInput, error)

	recState int

	recSession struct {
		trackID   string
		kind      CaptureKind
		opts      RecordingOptions
		state     recState
		startTime time.Time

		capture AudioCapture
		chunks  [][]byte

		input  NoteInput
		notes  []reeltime.Note
		active map[int]activeNote

		cancelCount chan struct{} // closes to abort a pending count-in
		done        chan struct{} // closed when the consume goroutine exits
	}

	activeNote struct {
		velocity float64
		at       time.Time
	}
)

const (
	recCountingIn recState = iota
	recRecording
)

func NewRecordingCoordinator(clock Clock, broker *Broker, decoder reeltime.Decoder, cfg Config) *RecordingCoordinator {
	return &RecordingCoordinator{
		clock:    clock,
		broker:   broker,
		decoder:  decoder,
		cfg:      cfg,
		sessions: make(map[string]*recSession),
	}
}

// StartAudioRecording acquires the device and starts an audio session on the
// track, after the count-in if one is configured. Fails with
// *AlreadyRecordingError when the track has an active session and with
// *DeviceAcquisitionError when the device cannot be claimed; in both cases
// no state transition happens.
func (c *RecordingCoordinator) StartAudioRecording(trackID string, open OpenAudioFunc, opts RecordingOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[trackID]; ok {
		return &reeltime.AlreadyRecordingError{TrackID: trackID}
	}
	capture, err := open()
	if err != nil {
		return &reeltime.DeviceAcquisitionError{Device: "audio input", Err: err}
	}
	sess := c.newSession(trackID, CaptureAudio, opts)
	sess.capture = capture
	c.sessions[trackID] = sess
	c.beginLocked(sess)
	return nil
}

// StartNoteRecording acquires the device and starts a note capture session
// on the track. Same failure semantics as StartAudioRecording.
func (c *RecordingCoordinator) StartNoteRecording(trackID string, open OpenNotesFunc, opts RecordingOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[trackID]; ok {
		return &reeltime.AlreadyRecordingError{TrackID: trackID}
	}
	input, err := open()
	if err != nil {
		return &reeltime.DeviceAcquisitionError{Device: "note input", Err: err}
	}
	sess := c.newSession(trackID, CaptureNotes, opts)
	sess.input = input
	sess.active = make(map[int]activeNote)
	c.sessions[trackID] = sess
	c.beginLocked(sess)
	return nil
}

func (c *RecordingCoordinator) newSession(trackID string, kind CaptureKind, opts RecordingOptions) *recSession {
	if opts.Tempo <= 0 {
		opts.Tempo = 120
	}
	if opts.CountInBeats == 0 {
		opts.CountInBeats = c.cfg.CountInBeats
	}
	return &recSession{
		trackID: trackID,
		kind:    kind,
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// beginLocked either starts capture right away or kicks off the count-in
// goroutine. The count-in suspends the RecordingStart emission but never
// blocks the caller.
func (c *RecordingCoordinator) beginLocked(sess *recSession) {
	if sess.opts.CountInBeats <= 0 {
		c.recordLocked(sess)
		return
	}
	sess.state = recCountingIn
	sess.cancelCount = make(chan struct{})
	c.emit(CountdownStart{TrackID: sess.trackID, Total: sess.opts.CountInBeats})
	interval := time.Duration(reeltime.BeatsToSeconds(1, sess.opts.Tempo) * float64(time.Second))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for remaining := sess.opts.CountInBeats; remaining > 0; remaining-- {
			c.emit(CountdownTick{TrackID: sess.trackID, Value: remaining})
			select {
			case <-sess.cancelCount:
				return
			case <-ticker.C:
			}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sessions[sess.trackID] != sess || sess.state != recCountingIn {
			return
		}
		c.emit(CountdownComplete{TrackID: sess.trackID})
		c.recordLocked(sess)
	}()
}

func (c *RecordingCoordinator) recordLocked(sess *recSession) {
	sess.state = recRecording
	sess.startTime = c.clock.Now()
	c.emit(RecordingStart{
		TrackID:       sess.trackID,
		Kind:          sess.kind,
		StartTime:     sess.startTime,
		StartPosition: sess.opts.StartPosition,
	})
	switch sess.kind {
	case CaptureAudio:
		go c.consumeAudio(sess)
	case CaptureNotes:
		go c.consumeNotes(sess)
	}
}

func (c *RecordingCoordinator) consumeAudio(sess *recSession) {
	for chunk := range sess.capture.Chunks() {
		c.mu.Lock()
		sess.chunks = append(sess.chunks, chunk)
		c.mu.Unlock()
	}
	close(sess.done)
	// channel closed: either Stop released the device, or the device went
	// away mid-recording. In the latter case finalize with what we have.
	c.mu.Lock()
	lost := c.sessions[sess.trackID] == sess && sess.state == recRecording
	c.mu.Unlock()
	if lost {
		c.broker.Alert("RecordingDeviceLost", Warning, "track %v: audio input lost, truncating take", sess.trackID)
		c.StopRecording(sess.trackID)
	}
}

func (c *RecordingCoordinator) consumeNotes(sess *recSession) {
	for ev := range sess.input.Events() {
		c.mu.Lock()
		if ev.Time.Before(sess.startTime) {
			// key transitions from before capture began (e.g. queued on the
			// device during the count-in) belong to no take
			c.mu.Unlock()
			continue
		}
		if ev.On {
			sess.active[ev.Pitch] = activeNote{velocity: ev.Velocity, at: ev.Time}
		} else if a, ok := sess.active[ev.Pitch]; ok {
			delete(sess.active, ev.Pitch)
			sess.notes = append(sess.notes, c.closedNote(sess, ev.Pitch, a, ev.Time, false))
		}
		c.mu.Unlock()
	}
	close(sess.done)
	c.mu.Lock()
	lost := c.sessions[sess.trackID] == sess && sess.state == recRecording
	c.mu.Unlock()
	if lost {
		c.broker.Alert("RecordingDeviceLost", Warning, "track %v: note input lost, truncating take", sess.trackID)
		c.StopRecording(sess.trackID)
	}
}

// closedNote turns an active note plus its note-off time into a completed
// Note, enforcing the minimum duration floor so hardware glitches cannot
// produce zero length notes.
func (c *RecordingCoordinator) closedNote(sess *recSession, pitch int, a activeNote, off time.Time, held bool) reeltime.Note {
	dur := off.Sub(a.at)
	if dur < c.cfg.MinNoteDuration {
		dur = c.cfg.MinNoteDuration
	}
	return reeltime.Note{
		Pitch:      pitch,
		Velocity:   a.velocity,
		Start:      reeltime.SecondsToBeats(a.at.Sub(sess.startTime).Seconds(), sess.opts.Tempo),
		Duration:   reeltime.SecondsToBeats(dur.Seconds(), sess.opts.Tempo),
		HeldAtStop: held,
	}
}

// StopRecording finalizes the track's session and returns the emitted take.
// A session still in its count-in is cancelled without a take. A no-op
// returning nil when nothing was recording; safe to call repeatedly.
func (c *RecordingCoordinator) StopRecording(trackID string) reeltime.Take {
	c.mu.Lock()
	sess, ok := c.sessions[trackID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.sessions, trackID)
	if sess.state == recCountingIn {
		close(sess.cancelCount)
		c.releaseLocked(sess)
		c.mu.Unlock()
		return nil
	}
	stopTime := c.clock.Now()
	c.releaseLocked(sess)
	c.mu.Unlock()
	<-sess.done // device released, wait for the consume goroutine to drain

	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit(RecordingStop{TrackID: trackID, Kind: sess.kind})
	switch sess.kind {
	case CaptureAudio:
		take := c.finalizeAudio(sess)
		c.emit(AudioTakeReady{TrackID: trackID, Take: take})
		return take
	default:
		take := c.finalizeNotes(sess, stopTime)
		c.emit(NoteTakeReady{TrackID: trackID, Take: take})
		return take
	}
}

// releaseLocked gives the input device back. Recording holds the device
// exclusively for the track, so the release must happen on every exit path:
// stop, cancellation and device error alike.
func (c *RecordingCoordinator) releaseLocked(sess *recSession) {
	var err error
	switch sess.kind {
	case CaptureAudio:
		err = sess.capture.Stop()
	case CaptureNotes:
		err = sess.input.Stop()
	}
	if err != nil {
		c.broker.Alert("RecordingRelease", Warning, "track %v: releasing input: %v", sess.trackID, err)
	}
}

func (c *RecordingCoordinator) finalizeAudio(sess *recSession) *reeltime.AudioTake {
	total := 0
	for _, chunk := range sess.chunks {
		total += len(chunk)
	}
	raw := make([]byte, 0, total)
	for _, chunk := range sess.chunks {
		raw = append(raw, chunk...)
	}
	blob := reeltime.WavFromRaw(raw, c.cfg.SampleRate)
	src := reeltime.NewSourceRef("take-"+sess.trackID, blob)
	// measure the real duration by decoding the blob; if that fails the
	// take is still kept, with the duration estimated from the raw size
	duration := float64(total/8) / float64(c.cfg.SampleRate)
	if pcm, err := c.decoder.Decode(src); err != nil {
		c.broker.Alert("TakeDecode", Warning, "track %v: measuring take duration: %v", sess.trackID, err)
	} else {
		duration = pcm.Duration()
	}
	return &reeltime.AudioTake{
		Source:        src,
		Duration:      duration,
		StartPosition: sess.opts.StartPosition,
	}
}

func (c *RecordingCoordinator) finalizeNotes(sess *recSession, stopTime time.Time) *reeltime.NoteTake {
	if len(sess.active) > 0 {
		c.broker.Alert("StuckVoices", Warning, "track %v: %d notes still held at stop", sess.trackID, len(sess.active))
	}
	for pitch, a := range sess.active {
		sess.notes = append(sess.notes, c.closedNote(sess, pitch, a, stopTime, true))
	}
	sess.active = map[int]activeNote{}
	notes := sess.notes
	if grid := sess.opts.QuantizeGrid; grid > 0 {
		for i := range notes {
			notes[i].Start = math.Round(notes[i].Start/grid) * grid
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Start < notes[j].Start })
	return &reeltime.NoteTake{
		Notes:         notes,
		Duration:      reeltime.SecondsToBeats(stopTime.Sub(sess.startTime).Seconds(), sess.opts.Tempo),
		StartPosition: sess.opts.StartPosition,
		Overdub:       sess.opts.Overdub,
	}
}

// StopAll stops every active session, e.g. when the project closes, so no
// capture is left orphaned holding its device.
func (c *RecordingCoordinator) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.StopRecording(id)
	}
}

// IsRecording reports whether the track has an active session (count-in
// included).
func (c *RecordingCoordinator) IsRecording(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[trackID]
	return ok
}

func (c *RecordingCoordinator) emit(ev Event) {
	TrySend(c.broker.ToObservers, ev)
}
