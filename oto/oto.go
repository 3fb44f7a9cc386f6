// Package oto adapts the ebitengine/oto/v3 output device to the engine's
// AudioContext capability. oto pulls 16-bit little-endian samples through an
// io.Reader, so the adapter converts the engine's float32 pull stream on the
// fly.
package oto

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"

	"github.com/reeltime-audio/reeltime"
)

type Context struct {
	ctx        *oto.Context
	sampleRate int
}

// NewContext initializes the audio device, waiting until it is ready.
func NewContext(sampleRate int) (*Context, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

// Play starts pulling audio from the source into the device. Closing the
// returned closer stops the playback.
func (c *Context) Play(source reeltime.AudioSource) (io.Closer, error) {
	p := c.ctx.NewPlayer(&sourceReader{source: source})
	p.Play()
	return p, nil
}

// Close releases the context. oto keeps its device alive for the process
// lifetime, so there is nothing to tear down here.
func (c *Context) Close() error { return nil }

// sourceReader converts the engine's stereo float32 pull stream into the
// interleaved 16-bit little-endian bytes oto consumes.
type sourceReader struct {
	source reeltime.AudioSource
	buf    reeltime.AudioBuffer
}

func (r *sourceReader) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	if cap(r.buf) < frames {
		r.buf = make(reeltime.AudioBuffer, frames)
	}
	buf := r.buf[:frames]
	n, err := r.source.ReadAudio(buf)
	if err != nil {
		return 0, err
	}
	FloatFramesTo16BitLE(buf[:n], p)
	return n * 4, nil
}

// FloatFramesTo16BitLE converts stereo float32 frames to interleaved 16-bit
// little-endian bytes, clamping out-of-range samples. dst must hold at least
// 4 bytes per frame.
func FloatFramesTo16BitLE(frames reeltime.AudioBuffer, dst []byte) {
	for i, frame := range frames {
		l := convert16(frame[0])
		r := convert16(frame[1])
		dst[i*4] = byte(l)
		dst[i*4+1] = byte(l >> 8)
		dst[i*4+2] = byte(r)
		dst[i*4+3] = byte(r >> 8)
	}
}

func convert16(v float32) int16 {
	if v < -1.0 {
		return -32767
	}
	if v > 1.0 {
		return 32767
	}
	return int16(v * 32767)
}
