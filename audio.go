package reeltime

import "io"

type (
	// AudioBuffer is a buffer of stereo audio samples of variable length,
	// where each sample is represented by [2]float32 (left and right).
	AudioBuffer [][2]float32

	// AudioSource is something that can fill a stereo buffer with audio. n is
	// the number of frames written; the source keeps returning silence after
	// its material ends, so a pull loop never has to special case the tail.
	AudioSource interface {
		ReadAudio(buffer AudioBuffer) (n int, err error)
	}

	// AudioSink accepts rendered stereo audio, e.g. for writing to a file.
	AudioSink interface {
		WriteAudio(buffer AudioBuffer) error
		Close() error
	}

	// AudioContext is a handle to an audio output device. Play starts pulling
	// audio from the source until the returned closer is closed.
	AudioContext interface {
		Play(source AudioSource) (io.Closer, error)
		Close() error
	}

	// PCM is decoded audio, one sample slice per channel, all the same
	// length. It is the result of decoding a SourceRef and the material the
	// clip scheduler mixes from.
	PCM struct {
		Samples    [][]float32
		SampleRate int
	}

	// Decoder turns an opaque source reference into PCM. Decode fails with a
	// *DecodeError when the source bytes are not a supported audio
	// container.
	Decoder interface {
		Decode(src *SourceRef) (*PCM, error)
	}
)

// NumFrames returns the number of sample frames per channel.
func (p *PCM) NumFrames() int {
	if len(p.Samples) == 0 {
		return 0
	}
	return len(p.Samples[0])
}

// Duration returns the length of the decoded audio in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.NumFrames()) / float64(p.SampleRate)
}

// Channel returns the samples of channel c, falling back to channel 0 when
// the audio has fewer channels (mono sources play on both sides).
func (p *PCM) Channel(c int) []float32 {
	if c < len(p.Samples) {
		return p.Samples[c]
	}
	if len(p.Samples) > 0 {
		return p.Samples[0]
	}
	return nil
}
