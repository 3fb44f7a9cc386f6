package engine

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/reeltime-audio/reeltime"
	"github.com/viterin/vek/vek32"
)

type (
	// ClipScheduler owns the audio clips of one track and produces their
	// correctly time-aligned mix. It is an AudioSource: the output device
	// (or an offline renderer) pulls stereo audio out of it, and Play/Stop/
	// Pause/Seek reposition what that pull returns. The mutex serializes
	// control calls against the audio pull; none of the methods are safe to
	// call concurrently without it.
	ClipScheduler struct {
		mu      sync.Mutex
		clock   Clock
		broker  *Broker
		decoder reeltime.Decoder

		sampleRate int
		clips      []*reeltime.Clip
		sources    map[string]*loadedSource // keyed by source ref ID
		volume     float32
		pan        float32

		playing   bool
		startPos  float64   // timeline position Play was called with
		startTime time.Time // clock time Play was called at
		pausedAt  float64

		voices      []voice
		renderFrame int64

		// planar mixing scratch, reused between pulls
		accL, accR, tmp []float32
	}

	// loadedSource caches the decode result per source ref, including the
	// failure: a source that failed once is not re-decoded on every
	// reconcile, and its clips are simply dropped from playback.
	loadedSource struct {
		pcm *reeltime.PCM
		err error
	}

	// ScheduledVoice is the runtime bookkeeping entry mapping one in-flight
	// clip playback to its schedule, exposed for tests and UI meters.
	ScheduledVoice struct {
		ClipID string
		// Delay is seconds from the Play call until the voice starts
		// sounding; zero when the position was already inside the clip.
		Delay float64
		// Offset is seconds into the source material at which reading
		// starts.
		Offset float64
		// Duration is seconds of material the voice plays.
		Duration float64
	}

	voice struct {
		clipID   string
		srcL     []float32
		srcR     []float32
		start    int64 // render frame at which the voice starts
		srcStart int64 // frame offset into the source channels
		length   int64 // frames to play
		sched    ScheduledVoice
	}
)

func NewClipScheduler(clock Clock, broker *Broker, decoder reeltime.Decoder, cfg Config) *ClipScheduler {
	return &ClipScheduler{
		clock:      clock,
		broker:     broker,
		decoder:    decoder,
		sampleRate: cfg.SampleRate,
		sources:    make(map[string]*loadedSource),
		volume:     1,
	}
}

// SetClips reconciles the live clip set with the track's current state.
// Clips whose source was seen before are a cheap timing update; new sources
// are decoded; sources no longer referenced are unloaded and their in-flight
// voices stopped. Safe to call while playing.
func (s *ClipScheduler) SetClips(clips []*reeltime.Clip, trackVolume, trackPan float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = trackVolume
	s.pan = trackPan
	keep := make(map[string]bool, len(clips))
	live := make(map[string]bool, len(clips))
	for _, c := range clips {
		if c.Source == nil {
			continue
		}
		keep[c.Source.ID] = true
		live[c.ID] = true
		s.loadLocked(c)
	}
	for id := range s.sources {
		if !keep[id] {
			delete(s.sources, id)
		}
	}
	n := 0
	for _, v := range s.voices {
		if live[v.clipID] {
			s.voices[n] = v
			n++
		}
	}
	s.voices = s.voices[:n]
	s.clips = clips
}

// loadLocked decodes and caches the clip's source once. A decode failure is
// reported as an alert and remembered; it never aborts the sibling clips.
func (s *ClipScheduler) loadLocked(c *reeltime.Clip) *loadedSource {
	if ls, ok := s.sources[c.Source.ID]; ok {
		return ls
	}
	pcm, err := s.decoder.Decode(c.Source)
	if err != nil {
		var derr *reeltime.DecodeError
		if !errors.As(err, &derr) {
			err = &reeltime.DecodeError{Source: c.Source.Name, Err: err}
		}
		s.broker.Alert("ClipDecode", Error, "clip %v: %v", c.ID, err)
		ls := &loadedSource{err: err}
		s.sources[c.Source.ID] = ls
		return ls
	}
	if pcm.SampleRate != s.sampleRate {
		pcm = resample(pcm, s.sampleRate)
	}
	ls := &loadedSource{pcm: pcm}
	s.sources[c.Source.ID] = ls
	return ls
}

// Play stops any existing playback and schedules every loaded clip against
// the given timeline position: clips already past are skipped, clips
// containing the position start immediately mid-material, and clips still
// ahead start after their remaining delay.
func (s *ClipScheduler) Play(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playLocked(pos)
}

func (s *ClipScheduler) playLocked(pos float64) {
	s.voices = s.voices[:0]
	s.renderFrame = 0
	s.playing = true
	s.startPos = pos
	s.startTime = s.clock.Now()
	for _, c := range s.clips {
		if c.Source == nil {
			continue
		}
		ls := s.sources[c.Source.ID]
		if ls == nil || ls.err != nil {
			continue
		}
		delay, offset, dur, ok := c.Window(pos, ls.pcm.Duration())
		if !ok {
			continue
		}
		sr := float64(s.sampleRate)
		s.voices = append(s.voices, voice{
			clipID:   c.ID,
			srcL:     ls.pcm.Channel(0),
			srcR:     ls.pcm.Channel(1),
			start:    int64(delay * sr),
			srcStart: int64(offset * sr),
			length:   int64(dur * sr),
			sched:    ScheduledVoice{ClipID: c.ID, Delay: delay, Offset: offset, Duration: dur},
		})
	}
}

// Stop immediately halts all in-flight voices. Idempotent.
func (s *ClipScheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *ClipScheduler) stopLocked() {
	s.voices = s.voices[:0]
	s.playing = false
}

// Pause computes the elapsed timeline position from the clock, stops, and
// returns the position, so that a later Play(pos) resumes where playback
// left off.
func (s *ClipScheduler) Pause() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		s.pausedAt = s.startPos + s.clock.Now().Sub(s.startTime).Seconds()
		s.stopLocked()
	}
	return s.pausedAt
}

// Seek repositions playback: stop+play when rolling, otherwise just
// remembers the position for the next Play.
func (s *ClipScheduler) Seek(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		s.playLocked(pos)
	} else {
		s.pausedAt = pos
	}
}

// Position returns the remembered pause/seek position.
func (s *ClipScheduler) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return s.startPos + s.clock.Now().Sub(s.startTime).Seconds()
	}
	return s.pausedAt
}

// SetVolume sets the track gain, applied to the output stage of every voice
// on the next pull; independent of scheduling.
func (s *ClipScheduler) SetVolume(v float32) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// SetPan sets the track pan in [-1, 1].
func (s *ClipScheduler) SetPan(p float32) {
	s.mu.Lock()
	s.pan = p
	s.mu.Unlock()
}

// Voices returns a snapshot of the in-flight voice bookkeeping.
func (s *ClipScheduler) Voices() []ScheduledVoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]ScheduledVoice, len(s.voices))
	for i, v := range s.voices {
		ret[i] = v.sched
	}
	return ret
}

// Playing reports whether a Play is in effect.
func (s *ClipScheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// ReadAudio mixes all in-flight voices additively into the buffer, applying
// the track volume and equal-power pan. It always fills the whole buffer,
// padding with silence, so the pull loop of the output device never stalls
// on a stopped track.
func (s *ClipScheduler) ReadAudio(buffer reeltime.AudioBuffer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(buffer)
	if cap(s.accL) < n {
		s.accL = make([]float32, n)
		s.accR = make([]float32, n)
		s.tmp = make([]float32, n)
	}
	accL, accR, tmp := s.accL[:n], s.accR[:n], s.tmp[:n]
	vek32.Zeros_Into(accL, n)
	vek32.Zeros_Into(accR, n)
	if s.playing {
		angle := float64(s.pan+1) * math.Pi / 4
		gainL := s.volume * float32(math.Cos(angle))
		gainR := s.volume * float32(math.Sin(angle))
		blockStart := s.renderFrame
		blockEnd := blockStart + int64(n)
		kept := s.voices[:0]
		for _, v := range s.voices {
			if v.start+v.length <= blockStart {
				continue // finished, prune the bookkeeping entry
			}
			kept = append(kept, v)
			from := max64(v.start, blockStart)
			to := min64(v.start+v.length, blockEnd)
			if from >= to {
				continue
			}
			srcFrom := v.srcStart + (from - v.start)
			srcTo := srcFrom + (to - from)
			if limit := int64(len(v.srcL)); srcTo > limit {
				srcTo = limit
			}
			if srcTo <= srcFrom {
				continue
			}
			out := int(from - blockStart)
			cnt := int(srcTo - srcFrom)
			mixInto(accL[out:out+cnt], v.srcL[srcFrom:srcTo], gainL, tmp)
			mixInto(accR[out:out+cnt], v.srcR[srcFrom:srcTo], gainR, tmp)
		}
		s.voices = kept
		s.renderFrame = blockEnd
	}
	for i := range buffer {
		buffer[i][0] = accL[i]
		buffer[i][1] = accR[i]
	}
	return n, nil
}

// mixInto computes acc += src*gain using the vectorized kernels.
func mixInto(acc, src []float32, gain float32, tmp []float32) {
	t := tmp[:len(src)]
	vek32.MulNumber_Into(t, src, gain)
	vek32.Add_Inplace(acc, t)
}

// resample converts pcm to the given rate with linear interpolation. Good
// enough for previewing mixed-rate material; mastering-grade resampling is
// not this engine's business.
func resample(pcm *reeltime.PCM, rate int) *reeltime.PCM {
	ratio := float64(pcm.SampleRate) / float64(rate)
	frames := int(float64(pcm.NumFrames()) / ratio)
	out := make([][]float32, len(pcm.Samples))
	for c, src := range pcm.Samples {
		dst := make([]float32, frames)
		for i := range dst {
			pos := float64(i) * ratio
			j := int(pos)
			if j+1 >= len(src) {
				dst[i] = src[len(src)-1]
				continue
			}
			frac := float32(pos - float64(j))
			dst[i] = src[j]*(1-frac) + src[j+1]*frac
		}
		out[c] = dst
	}
	return &reeltime.PCM{Samples: out, SampleRate: rate}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
