package ingest

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/reeltime-audio/reeltime"
	"github.com/reeltime-audio/reeltime/engine"
)

// wavSource builds a decodable 16-bit stereo wav source of constant sample
// value.
func wavSource(t *testing.T, value float32, frames int) *reeltime.SourceRef {
	t.Helper()
	buffer := make(reeltime.AudioBuffer, frames)
	for i := range buffer {
		buffer[i] = [2]float32{value, value}
	}
	blob, err := reeltime.Wav(buffer, 44100, true)
	if err != nil {
		t.Fatalf("building wav source: %v", err)
	}
	return reeltime.NewSourceRef("tone.wav", blob)
}

func TestInlineDecoderWav(t *testing.T) {
	src := wavSource(t, 0.5, 300)
	pcm, err := InlineDecoder{}.Decode(src)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.SampleRate != 44100 {
		t.Errorf("SampleRate = %v, expected 44100", pcm.SampleRate)
	}
	if pcm.NumFrames() != 300 {
		t.Errorf("NumFrames() = %v, expected 300", pcm.NumFrames())
	}
	if got := pcm.Channel(1)[150]; math.Abs(float64(got)-0.5) > 0.001 {
		t.Errorf("sample = %v, expected about 0.5", got)
	}
}

func TestInlineDecoderRaw(t *testing.T) {
	data := make([]byte, 0, 4*8)
	for _, v := range []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0.4, -0.4} {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	src := reeltime.NewSourceRef("capture.raw", data)
	pcm, err := InlineDecoder{}.Decode(src)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.NumFrames() != 4 {
		t.Fatalf("NumFrames() = %v, expected 4", pcm.NumFrames())
	}
	if pcm.Channel(0)[2] != 0.3 || pcm.Channel(1)[2] != -0.3 {
		t.Errorf("frame 2 = (%v, %v), expected (0.3, -0.3)", pcm.Channel(0)[2], pcm.Channel(1)[2])
	}
}

func TestInlineDecoderRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		src  *reeltime.SourceRef
	}{
		{"empty", reeltime.NewSourceRef("empty.wav", nil)},
		{"unknown container", reeltime.NewSourceRef("mystery.bin", []byte("not audio at all"))},
		{"ragged raw", reeltime.NewSourceRef("capture.raw", []byte{1, 2, 3})},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := InlineDecoder{}.Decode(test.src)
			var derr *reeltime.DecodeError
			if !errors.As(err, &derr) {
				t.Errorf("got %v, expected *DecodeError", err)
			}
		})
	}
}

func TestLooksLikeMP3(t *testing.T) {
	tests := []struct {
		data     []byte
		expected bool
	}{
		{[]byte("ID3\x04rest of tag"), true},
		{[]byte{0xFF, 0xFB, 0x90}, true},
		{[]byte{0xFF, 0x01}, false},
		{[]byte("RIFF"), false},
		{nil, false},
	}
	for _, test := range tests {
		if got := looksLikeMP3(test.data); got != test.expected {
			t.Errorf("looksLikeMP3(%v) = %v, expected %v", test.data, got, test.expected)
		}
	}
}

func TestOffThreadDecoder(t *testing.T) {
	broker := engine.NewBroker()
	d := NewOffThreadDecoder(InlineDecoder{}, broker)
	go d.Run()

	pcm, err := d.DecodeDeadline(wavSource(t, 0.25, 100), time.Second)
	if err != nil {
		t.Fatalf("DecodeDeadline failed: %v", err)
	}
	if pcm.NumFrames() != 100 {
		t.Errorf("NumFrames() = %v, expected 100", pcm.NumFrames())
	}

	broker.CloseIngest <- struct{}{}
	if _, ok := engine.TimeoutReceive(broker.FinishedIngest, time.Second); ok {
		t.Errorf("FinishedIngest should close, not deliver")
	}
}

func TestOffThreadDecoderTimeout(t *testing.T) {
	broker := engine.NewBroker()
	d := NewOffThreadDecoder(InlineDecoder{}, broker)
	// the worker is intentionally not running, so no reply ever comes
	_, err := d.DecodeDeadline(wavSource(t, 0, 10), 10*time.Millisecond)
	var terr *reeltime.SchedulingTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, expected *SchedulingTimeoutError", err)
	}
}

func TestPipelineStickyFallback(t *testing.T) {
	broker := engine.NewBroker()
	cfg := engine.DefaultConfig()
	cfg.IngestTimeout = 10 * time.Millisecond
	// worker not running: every off-thread request times out
	p := NewPipeline(InlineDecoder{}, NewOffThreadDecoder(InlineDecoder{}, broker), cfg)

	src := wavSource(t, 0.5, 50)
	if _, err := p.Decode(src); err != nil {
		t.Fatalf("first decode should fall back inline, got %v", err)
	}
	stats := p.GetStats()
	if stats.Fallbacks != 1 || stats.Inline != 1 || stats.OffThread != 0 {
		t.Errorf("stats after fallback = %+v, expected 1 fallback, 1 inline", stats)
	}
	// the fallback is sticky: no off-thread attempt (and no timeout wait)
	// on the next source
	started := time.Now()
	if _, err := p.Decode(wavSource(t, 0.5, 50)); err != nil {
		t.Fatalf("second decode failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Millisecond {
		t.Errorf("second decode took %v, expected it to skip the off-thread wait", elapsed)
	}
	stats = p.GetStats()
	if stats.Fallbacks != 1 || stats.Inline != 2 {
		t.Errorf("stats after second decode = %+v, expected fallback count unchanged", stats)
	}
}

func TestPipelineDecodeErrorDoesNotTripFallback(t *testing.T) {
	broker := engine.NewBroker()
	d := NewOffThreadDecoder(InlineDecoder{}, broker)
	go d.Run()
	p := NewPipeline(InlineDecoder{}, d, engine.DefaultConfig())

	if _, err := p.Decode(reeltime.NewSourceRef("bad.bin", []byte("garbage"))); err == nil {
		t.Fatalf("garbage decoded without error")
	}
	if _, err := p.Decode(wavSource(t, 0.5, 50)); err != nil {
		t.Fatalf("valid decode after a bad source failed: %v", err)
	}
	stats := p.GetStats()
	if stats.OffThread != 2 || stats.Fallbacks != 0 {
		t.Errorf("stats = %+v, expected both decodes off-thread with no fallback", stats)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %v, expected 1", stats.Errors)
	}
	broker.CloseIngest <- struct{}{}
	engine.TimeoutReceive(broker.FinishedIngest, time.Second)
}

func TestPipelineProcessStages(t *testing.T) {
	p := NewPipeline(InlineDecoder{}, nil, engine.DefaultConfig())
	type step struct {
		stage   string
		percent int
	}
	var steps []step
	result, err := p.Process(wavSource(t, 0.5, 1000), func(stage string, percent int) {
		steps = append(steps, step{stage, percent})
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !close64(result.Duration, 1000.0/44100) {
		t.Errorf("Duration = %v, expected %v", result.Duration, 1000.0/44100)
	}
	if len(result.Peaks) == 0 || result.PCM == nil {
		t.Fatalf("result missing peaks or PCM: %+v", result)
	}
	order := map[string]int{StageReading: 0, StageDecoding: 1, StagePeaks: 2, StageComplete: 3}
	lastStage, lastPercent := -1, 0
	for _, s := range steps {
		rank, known := order[s.stage]
		if !known {
			t.Fatalf("unexpected stage %q", s.stage)
		}
		if rank < lastStage || s.percent < lastPercent {
			t.Errorf("stage %q at %v%% went backwards", s.stage, s.percent)
		}
		lastStage, lastPercent = rank, s.percent
	}
	if last := steps[len(steps)-1]; last.stage != StageComplete || last.percent != 100 {
		t.Errorf("last step = %+v, expected complete at 100", last)
	}
}

func TestPipelineProcessError(t *testing.T) {
	p := NewPipeline(InlineDecoder{}, nil, engine.DefaultConfig())
	var lastStage string
	var lastPercent int
	_, err := p.Process(reeltime.NewSourceRef("empty.wav", nil), func(stage string, percent int) {
		lastStage, lastPercent = stage, percent
	})
	var derr *reeltime.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, expected *DecodeError", err)
	}
	if lastStage != StageError || lastPercent != 100 {
		t.Errorf("last progress = (%v, %v), expected (error, 100)", lastStage, lastPercent)
	}
	if stats := p.GetStats(); stats.Errors != 1 {
		t.Errorf("Errors = %v, expected 1", stats.Errors)
	}
	// the pipeline stays usable after a failed source
	if _, err := p.Process(wavSource(t, 0.5, 100), nil); err != nil {
		t.Errorf("valid source failed after a bad one: %v", err)
	}
}

func TestComputePeaks(t *testing.T) {
	pcm := &reeltime.PCM{
		Samples:    [][]float32{{0.5, -0.5, 0.25, 0.75, -1}},
		SampleRate: 44100,
	}
	peaks := ComputePeaks(pcm, 2)
	if len(peaks) != 3 {
		t.Fatalf("got %v peaks, expected 3 (two full windows and a partial)", len(peaks))
	}
	if peaks[0].Min != -0.5 || peaks[0].Max != 0.5 {
		t.Errorf("peaks[0] = %+v, expected {-0.5 0.5}", peaks[0])
	}
	if peaks[1].Min != 0.25 || peaks[1].Max != 0.75 {
		t.Errorf("peaks[1] = %+v, expected {0.25 0.75}", peaks[1])
	}
	if peaks[2].Min != -1 || peaks[2].Max != -1 {
		t.Errorf("peaks[2] = %+v, expected {-1 -1}", peaks[2])
	}
}

func TestComputePeaksEmpty(t *testing.T) {
	if peaks := ComputePeaks(&reeltime.PCM{SampleRate: 44100}, 256); peaks != nil {
		t.Errorf("peaks of empty PCM = %v, expected nil", peaks)
	}
}

func close64(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
