package reeltime

// Instrument is the capability to sound pitched voices; the synthesis behind
// it (a software synth, a MIDI output, a plugin) is outside the engine. Calls
// take effect immediately: the note scheduler defers with its own timers and
// then triggers, rather than handing the instrument a future timestamp.
//
// Implementations may reject pitches they cannot play by returning false
// from PlayNote; the scheduler skips such notes silently.
type Instrument interface {
	PlayNote(pitch int, velocity float64) bool
	StopNote(pitch int)
	StopAllNotes()
}
