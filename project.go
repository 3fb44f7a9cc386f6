package reeltime

// Project is the serialized form of a multitrack arrangement, as the command
// line tools load and save it. Audio sources are stored as file references;
// loading a project means ingesting every referenced file and rebinding the
// clips to the decoded sources.
type Project struct {
	BPM        float64 `yaml:"bpm"`
	SampleRate int     `yaml:"samplerate,omitempty"`
	Tracks     []Track `yaml:"tracks"`
}

// Track is one lane of the arrangement: either audio clips or notes, never
// both. Volume and Pan apply to the mixed output of the whole track.
type Track struct {
	Name   string  `yaml:"name,omitempty"`
	Volume float32 `yaml:"volume,omitempty"`
	Pan    float32 `yaml:"pan,omitempty"`

	Clips []FileClip `yaml:"clips,omitempty"`
	Notes []Note     `yaml:"notes,omitempty"`
}

// FileClip is a clip whose source lives in a file on disk instead of an in
// memory SourceRef.
type FileClip struct {
	File     string  `yaml:"file"`
	Start    float64 `yaml:"start"`
	Offset   float64 `yaml:"offset,omitempty"`
	Duration float64 `yaml:"duration"`
}

// TrackVolume returns the track volume with the zero value mapped to unity,
// so that omitting volume in a project file does not silence the track.
func (t *Track) TrackVolume() float32 {
	if t.Volume == 0 {
		return 1
	}
	return t.Volume
}
