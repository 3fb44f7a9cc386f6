package ingest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	wav "github.com/youpy/go-wav"

	"github.com/reeltime-audio/reeltime"
	"github.com/reeltime-audio/reeltime/engine"
)

// InlineDecoder is the synchronous in-process decoding strategy. It sniffs
// the container from the source bytes: RIFF/WAVE, MP3, or the engine's
// headerless raw float32 format (by .raw extension only, since raw cannot be
// sniffed). Anything else is a DecodeError.
type InlineDecoder struct{}

func (InlineDecoder) Decode(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	if len(src.Data) == 0 {
		return nil, &reeltime.DecodeError{Source: src.Name, Err: errors.New("source is empty")}
	}
	switch {
	case len(src.Data) >= 4 && bytes.Equal(src.Data[:4], []byte("RIFF")):
		return decodeWav(src)
	case looksLikeMP3(src.Data):
		return decodeMP3(src)
	case strings.HasSuffix(strings.ToLower(src.Name), ".raw"):
		return decodeRaw(src)
	default:
		return nil, &reeltime.DecodeError{Source: src.Name, Err: errors.New("unsupported container")}
	}
}

func looksLikeMP3(data []byte) bool {
	if len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")) {
		return true
	}
	// frame sync: 11 set bits
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeWav(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	r := wav.NewReader(bytes.NewReader(src.Data))
	format, err := r.Format()
	if err != nil {
		return nil, &reeltime.DecodeError{Source: src.Name, Err: err}
	}
	channels := int(format.NumChannels)
	if channels < 1 {
		return nil, &reeltime.DecodeError{Source: src.Name, Err: fmt.Errorf("wav reports %d channels", channels)}
	}
	samples := make([][]float32, channels)
	for {
		chunk, err := r.ReadSamples(2048)
		for _, sample := range chunk {
			for c := 0; c < channels; c++ {
				samples[c] = append(samples[c], float32(r.FloatValue(sample, uint(c))))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &reeltime.DecodeError{Source: src.Name, Err: err}
		}
	}
	return &reeltime.PCM{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

func decodeMP3(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &reeltime.DecodeError{Source: src.Name, Err: err}
	}
	// go-mp3 always outputs 16-bit little-endian stereo
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, &reeltime.DecodeError{Source: src.Name, Err: err}
	}
	frames := len(raw) / 4
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*4:]))) / math.MaxInt16
		right[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*4+2:]))) / math.MaxInt16
	}
	return &reeltime.PCM{Samples: [][]float32{left, right}, SampleRate: d.SampleRate()}, nil
}

func decodeRaw(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	if len(src.Data)%8 != 0 {
		return nil, &reeltime.DecodeError{Source: src.Name, Err: errors.New("raw data is not whole stereo float32 frames")}
	}
	frames := len(src.Data) / 8
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = math.Float32frombits(binary.LittleEndian.Uint32(src.Data[i*8:]))
		right[i] = math.Float32frombits(binary.LittleEndian.Uint32(src.Data[i*8+4:]))
	}
	return &reeltime.PCM{Samples: [][]float32{left, right}, SampleRate: 44100}, nil
}

// OffThreadDecoder runs another decoder on a dedicated worker goroutine, so
// decoding large imports does not stall the caller's loop. Every request
// carries a deadline; a worker that does not answer in time yields a
// SchedulingTimeoutError and the caller is expected to fall back rather
// than hang.
type OffThreadDecoder struct {
	inner    reeltime.Decoder
	broker   *engine.Broker
	requests chan decodeRequest
}

type decodeRequest struct {
	src   *reeltime.SourceRef
	reply chan decodeReply
}

type decodeReply struct {
	pcm *reeltime.PCM
	err error
}

func NewOffThreadDecoder(inner reeltime.Decoder, broker *engine.Broker) *OffThreadDecoder {
	return &OffThreadDecoder{
		inner:    inner,
		broker:   broker,
		requests: make(chan decodeRequest, 16),
	}
}

// Run serves decode requests until the broker asks it to close. Run it in
// its own goroutine; it closes FinishedIngest when done.
func (d *OffThreadDecoder) Run() {
	defer close(d.broker.FinishedIngest)
	for {
		select {
		case <-d.broker.CloseIngest:
			return
		case req := <-d.requests:
			pcm, err := d.inner.Decode(req.src)
			req.reply <- decodeReply{pcm: pcm, err: err}
		}
	}
}

// DecodeDeadline sends the source to the worker and waits at most timeout
// for the reply.
func (d *OffThreadDecoder) DecodeDeadline(src *reeltime.SourceRef, timeout time.Duration) (*reeltime.PCM, error) {
	req := decodeRequest{src: src, reply: make(chan decodeReply, 1)}
	if !engine.TrySend(d.requests, req) {
		return nil, &reeltime.SchedulingTimeoutError{Op: "off-thread decode", Timeout: 0}
	}
	reply, ok := engine.TimeoutReceive(req.reply, timeout)
	if !ok {
		return nil, &reeltime.SchedulingTimeoutError{Op: "off-thread decode", Timeout: timeout}
	}
	return reply.pcm, reply.err
}
