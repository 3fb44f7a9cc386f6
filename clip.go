package reeltime

import "github.com/google/uuid"

// Clip is one playable audio region on a track: a time-bounded reference
// into a decoded source. Clips are owned by their track; the scheduler only
// ever holds a pointer to them, so in place edits of the offsets are picked
// up on the next reconcile or play. Clips on one track may overlap, in which
// case they are mixed additively.
type Clip struct {
	ID     string     `yaml:"id"`
	Source *SourceRef `yaml:"source"`

	// TimelineStart is the position of the clip on the track timeline, in
	// seconds from the start of the project.
	TimelineStart float64 `yaml:"start"`
	// SourceOffset is how far into the source material the clip begins, in
	// seconds.
	SourceOffset float64 `yaml:"offset"`
	// Duration is the audible length of the clip in seconds. It is bounded
	// by the remaining source material; the scheduler clamps it when the
	// source turns out to be shorter.
	Duration float64 `yaml:"duration"`
}

// SourceRef is an opaque handle to the raw bytes of one audio source: a
// finalized recording take or an imported file. The same ref may be shared
// by several clips; decoding is cached per ref ID.
type SourceRef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Data []byte `yaml:"-"`
}

func NewSourceRef(name string, data []byte) *SourceRef {
	return &SourceRef{ID: uuid.NewString(), Name: name, Data: data}
}

func NewClip(src *SourceRef, timelineStart, sourceOffset, duration float64) *Clip {
	return &Clip{
		ID:            uuid.NewString(),
		Source:        src,
		TimelineStart: timelineStart,
		SourceOffset:  sourceOffset,
		Duration:      duration,
	}
}

// End returns the end of the clip on the timeline, in seconds.
func (c *Clip) End() float64 { return c.TimelineStart + c.Duration }

// minPlayable is the shortest play duration worth scheduling, in seconds.
// Clamping can leave a sliver of effectively zero length; scheduling those
// throws on some output backends, so they are skipped instead.
const minPlayable = 1e-4

// Window computes how the clip should be scheduled when playback starts at
// timeline position pos, given the true duration of the decoded source.
//
//   - delay is how long after "now" the clip should start sounding (zero if
//     pos is already inside the clip),
//   - offset is where in the source material to start reading,
//   - dur is how long to play.
//
// ok is false when the clip should not be scheduled at all: pos is past its
// end, or the clamped duration is below minPlayable.
func (c *Clip) Window(pos, sourceDuration float64) (delay, offset, dur float64, ok bool) {
	if pos >= c.End() {
		return 0, 0, 0, false
	}
	if pos < c.TimelineStart {
		delay = c.TimelineStart - pos
		offset = c.SourceOffset
		dur = c.Duration
	} else {
		offset = c.SourceOffset + (pos - c.TimelineStart)
		dur = c.Duration - (pos - c.TimelineStart)
	}
	if offset < 0 {
		offset = 0
	}
	if offset > sourceDuration {
		offset = sourceDuration
	}
	if remaining := sourceDuration - offset; dur > remaining {
		dur = remaining
	}
	if dur <= minPlayable {
		return 0, 0, 0, false
	}
	return delay, offset, dur, true
}
