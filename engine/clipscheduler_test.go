package engine_test

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/reeltime-audio/reeltime"
	"github.com/reeltime-audio/reeltime/engine"
)

// stubDecoder maps source ref names to canned results, standing in for the
// ingest pipeline.
type stubDecoder struct {
	pcms map[string]*reeltime.PCM
	errs map[string]error
}

func (d stubDecoder) Decode(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	if err, ok := d.errs[src.Name]; ok {
		return nil, err
	}
	if pcm, ok := d.pcms[src.Name]; ok {
		return pcm, nil
	}
	return nil, &reeltime.DecodeError{Source: src.Name, Err: fmt.Errorf("no such source")}
}

// constPCM returns stereo PCM where every sample has the given value.
func constPCM(value float32, frames, rate int) *reeltime.PCM {
	l := make([]float32, frames)
	r := make([]float32, frames)
	for i := range l {
		l[i] = value
		r[i] = value
	}
	return &reeltime.PCM{Samples: [][]float32{l, r}, SampleRate: rate}
}

func newClipScheduler(clock engine.Clock, decoder reeltime.Decoder, rate int) *engine.ClipScheduler {
	cfg := engine.DefaultConfig()
	cfg.SampleRate = rate
	return engine.NewClipScheduler(clock, engine.NewBroker(), decoder, cfg)
}

func TestClipSchedulerSchedulesAgainstPosition(t *testing.T) {
	src := reeltime.NewSourceRef("loop", nil)
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"loop": constPCM(0.5, 10*1000, 1000)}}
	s := newClipScheduler(engine.NewManualClock(), decoder, 1000)

	clip1 := reeltime.NewClip(src, 0, 0, 5)
	clip2 := reeltime.NewClip(src, 3, 0, 4)
	clip3 := reeltime.NewClip(src, 10, 0, 2)
	past := reeltime.NewClip(src, 1, 0, 2)
	s.SetClips([]*reeltime.Clip{clip1, clip2, clip3, past}, 1, 0)

	s.Play(4)
	voices := s.Voices()
	if len(voices) != 3 {
		t.Fatalf("got %v voices, expected 3", len(voices))
	}
	byClip := map[string]engine.ScheduledVoice{}
	for _, v := range voices {
		byClip[v.ClipID] = v
	}
	v1, ok := byClip[clip1.ID]
	if !ok || v1.Delay != 0 || !close64(v1.Offset, 4) || !close64(v1.Duration, 1) {
		t.Errorf("clip1 voice = %+v, expected delay 0, offset 4, duration 1", v1)
	}
	v2, ok := byClip[clip2.ID]
	if !ok || v2.Delay != 0 || !close64(v2.Offset, 1) || !close64(v2.Duration, 3) {
		t.Errorf("clip2 voice = %+v, expected delay 0, offset 1, duration 3", v2)
	}
	v3, ok := byClip[clip3.ID]
	if !ok || !close64(v3.Delay, 6) || v3.Offset != 0 || !close64(v3.Duration, 2) {
		t.Errorf("clip3 voice = %+v, expected delay 6, offset 0, duration 2", v3)
	}
	if _, ok := byClip[past.ID]; ok {
		t.Errorf("a clip that ended before position 4 should not have a voice")
	}
}

func TestClipSchedulerReadAudio(t *testing.T) {
	const rate = 1000
	src := reeltime.NewSourceRef("tone", nil)
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"tone": constPCM(0.5, rate, rate)}}
	s := newClipScheduler(engine.NewManualClock(), decoder, rate)
	// 100 ms of material starting 100 ms into the timeline
	s.SetClips([]*reeltime.Clip{reeltime.NewClip(src, 0.1, 0, 0.1)}, 1, 0)
	s.Play(0)

	buffer := make(reeltime.AudioBuffer, 300)
	n, err := s.ReadAudio(buffer)
	if err != nil || n != len(buffer) {
		t.Fatalf("ReadAudio returned (%v, %v), expected (%v, nil)", n, err, len(buffer))
	}
	centered := 0.5 * float32(math.Sqrt2) / 2 // equal-power pan, both channels
	if buffer[50][0] != 0 || buffer[50][1] != 0 {
		t.Errorf("frame 50 = %v, expected silence before the clip", buffer[50])
	}
	if !close32(buffer[150][0], centered) || !close32(buffer[150][1], centered) {
		t.Errorf("frame 150 = %v, expected (%v, %v)", buffer[150], centered, centered)
	}
	if buffer[250][0] != 0 || buffer[250][1] != 0 {
		t.Errorf("frame 250 = %v, expected silence after the clip", buffer[250])
	}
}

func TestClipSchedulerPan(t *testing.T) {
	const rate = 1000
	src := reeltime.NewSourceRef("tone", nil)
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"tone": constPCM(1, rate, rate)}}
	s := newClipScheduler(engine.NewManualClock(), decoder, rate)
	s.SetClips([]*reeltime.Clip{reeltime.NewClip(src, 0, 0, 1)}, 1, -1) // hard left
	s.Play(0)
	buffer := make(reeltime.AudioBuffer, 16)
	s.ReadAudio(buffer)
	if !close32(buffer[0][0], 1) {
		t.Errorf("left channel = %v, expected 1 at hard left", buffer[0][0])
	}
	if !close32(buffer[0][1], 0) {
		t.Errorf("right channel = %v, expected 0 at hard left", buffer[0][1])
	}
}

func TestClipSchedulerOverlappingClipsMixAdditively(t *testing.T) {
	const rate = 1000
	src := reeltime.NewSourceRef("tone", nil)
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"tone": constPCM(0.25, rate, rate)}}
	s := newClipScheduler(engine.NewManualClock(), decoder, rate)
	s.SetClips([]*reeltime.Clip{
		reeltime.NewClip(src, 0, 0, 0.5),
		reeltime.NewClip(src, 0, 0, 0.5),
	}, 1, 0)
	s.Play(0)
	buffer := make(reeltime.AudioBuffer, 16)
	s.ReadAudio(buffer)
	expected := 2 * 0.25 * float32(math.Sqrt2) / 2
	if !close32(buffer[0][0], expected) {
		t.Errorf("mixed sample = %v, expected %v", buffer[0][0], expected)
	}
}

func TestClipSchedulerPauseResume(t *testing.T) {
	clock := engine.NewManualClock()
	src := reeltime.NewSourceRef("tone", nil)
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"tone": constPCM(0.5, 10*1000, 1000)}}
	s := newClipScheduler(clock, decoder, 1000)
	s.SetClips([]*reeltime.Clip{reeltime.NewClip(src, 0, 0, 10)}, 1, 0)

	s.Play(1)
	clock.Advance(2 * time.Second)
	pos := s.Pause()
	if !close64(pos, 3) {
		t.Errorf("Pause() = %v, expected 3", pos)
	}
	if s.Playing() {
		t.Errorf("still playing after Pause")
	}
	s.Play(pos)
	voices := s.Voices()
	if len(voices) != 1 || !close64(voices[0].Offset, 3) {
		t.Errorf("voices after resume = %+v, expected one voice at offset 3", voices)
	}
}

func TestClipSchedulerDecodeFailureIsolated(t *testing.T) {
	good := reeltime.NewSourceRef("good", nil)
	bad := reeltime.NewSourceRef("bad", nil)
	decoder := stubDecoder{
		pcms: map[string]*reeltime.PCM{"good": constPCM(0.5, 1000, 1000)},
		errs: map[string]error{"bad": &reeltime.DecodeError{Source: "bad", Err: fmt.Errorf("corrupt")}},
	}
	s := newClipScheduler(engine.NewManualClock(), decoder, 1000)
	s.SetClips([]*reeltime.Clip{
		reeltime.NewClip(bad, 0, 0, 1),
		reeltime.NewClip(good, 0, 0, 1),
	}, 1, 0)
	s.Play(0)
	voices := s.Voices()
	if len(voices) != 1 {
		t.Fatalf("got %v voices, expected only the good clip to play", len(voices))
	}
}

func TestClipSchedulerReconcileStopsRemovedClips(t *testing.T) {
	src := reeltime.NewSourceRef("tone", nil)
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"tone": constPCM(0.5, 1000, 1000)}}
	s := newClipScheduler(engine.NewManualClock(), decoder, 1000)
	clip := reeltime.NewClip(src, 0, 0, 1)
	s.SetClips([]*reeltime.Clip{clip}, 1, 0)
	s.Play(0)
	if len(s.Voices()) != 1 {
		t.Fatalf("expected one voice before the reconcile")
	}
	s.SetClips(nil, 1, 0)
	if len(s.Voices()) != 0 {
		t.Errorf("removed clip still has a voice after the reconcile")
	}
	buffer := make(reeltime.AudioBuffer, 8)
	s.ReadAudio(buffer)
	if buffer[0][0] != 0 {
		t.Errorf("removed clip still audible")
	}
}

func TestClipSchedulerResamples(t *testing.T) {
	src := reeltime.NewSourceRef("tone", nil)
	// source at double the session rate; one second of material either way
	decoder := stubDecoder{pcms: map[string]*reeltime.PCM{"tone": constPCM(0.5, 2000, 2000)}}
	s := newClipScheduler(engine.NewManualClock(), decoder, 1000)
	s.SetClips([]*reeltime.Clip{reeltime.NewClip(src, 0, 0, 1)}, 1, 0)
	s.Play(0)
	voices := s.Voices()
	if len(voices) != 1 || !close64(voices[0].Duration, 1) {
		t.Fatalf("voices = %+v, expected one voice of 1 s", voices)
	}
}

func close64(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func close32(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }
