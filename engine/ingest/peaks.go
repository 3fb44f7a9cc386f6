package ingest

import (
	"github.com/viterin/vek/vek32"

	"github.com/reeltime-audio/reeltime"
)

// Peak is a (min, max) amplitude pair summarizing one downsampled window of
// audio. Min/max, not RMS: waveform rendering needs the envelope extremes,
// or transients visually disappear.
type Peak struct {
	Min float32
	Max float32
}

// ComputePeaks downsamples the first channel into windows of samplesPerPixel
// frames and records the amplitude extremes of each. The final window may
// cover fewer frames.
func ComputePeaks(pcm *reeltime.PCM, samplesPerPixel int) []Peak {
	if samplesPerPixel <= 0 {
		samplesPerPixel = 256
	}
	ch := pcm.Channel(0)
	if len(ch) == 0 {
		return nil
	}
	peaks := make([]Peak, 0, (len(ch)+samplesPerPixel-1)/samplesPerPixel)
	for start := 0; start < len(ch); start += samplesPerPixel {
		end := start + samplesPerPixel
		if end > len(ch) {
			end = len(ch)
		}
		window := ch[start:end]
		peaks = append(peaks, Peak{Min: vek32.Min(window), Max: vek32.Max(window)})
	}
	return peaks
}
