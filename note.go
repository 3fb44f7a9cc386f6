package reeltime

// Note is one discrete pitched event on a track, with its position and
// length expressed in beats so that the note data is independent of tempo.
type Note struct {
	Pitch    int     `yaml:"pitch"`
	Velocity float64 `yaml:"velocity"`
	Start    float64 `yaml:"start"`
	Duration float64 `yaml:"duration"`

	// HeldAtStop marks a note that was still sounding when recording
	// stopped and was force closed. Informational only; nothing downstream
	// changes behavior based on it.
	HeldAtStop bool `yaml:"heldAtStop,omitempty"`
}

const (
	MinPitch = 0
	MaxPitch = 127
)

// PitchValid reports whether the pitch is within the MIDI note range. Notes
// outside the range are filtered to no-ops by the scheduler rather than
// rejected at edit time.
func (n Note) PitchValid() bool {
	return n.Pitch >= MinPitch && n.Pitch <= MaxPitch
}

// BeatsToSeconds converts a duration in beats to seconds at the given tempo.
func BeatsToSeconds(beats, bpm float64) float64 {
	return beats * 60 / bpm
}

// SecondsToBeats converts a duration in seconds to beats at the given tempo.
func SecondsToBeats(seconds, bpm float64) float64 {
	return seconds * bpm / 60
}
