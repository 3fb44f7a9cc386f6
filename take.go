package reeltime

type (
	// Take is the finalized, immutable result of one recording session. It
	// is created exactly once when the session stops and handed to the
	// owning track, which turns it into a Clip or appends its Notes.
	Take interface {
		// StartPos is the timeline position (seconds) the recording was
		// started at, so the track can place the material correctly.
		StartPos() float64
	}

	// AudioTake is a finished audio recording: a decodable source blob plus
	// its measured duration.
	AudioTake struct {
		Source        *SourceRef
		Duration      float64
		StartPosition float64
	}

	// NoteTake is a finished note recording. Overdub tells the owning track
	// to merge the notes into its collection instead of replacing it.
	NoteTake struct {
		Notes         []Note  `yaml:"notes"`
		Duration      float64 `yaml:"duration"`
		StartPosition float64 `yaml:"startPosition"`
		Overdub       bool    `yaml:"overdub,omitempty"`
	}
)

func (t *AudioTake) StartPos() float64 { return t.StartPosition }
func (t *NoteTake) StartPos() float64  { return t.StartPosition }
