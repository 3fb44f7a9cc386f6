package engine

import (
	"sync"

	"github.com/reeltime-audio/reeltime"
)

// Mixer sums any number of audio sources into one stream, so all the track
// schedulers of a session can feed a single output device. Overlapping
// material mixes additively; the output stage is shared, never exclusively
// claimed by one track.
type Mixer struct {
	mu      sync.Mutex
	sources []reeltime.AudioSource
	scratch reeltime.AudioBuffer
}

func NewMixer(sources ...reeltime.AudioSource) *Mixer {
	return &Mixer{sources: sources}
}

// AddSource appends a source; safe while the mixer is being pulled.
func (m *Mixer) AddSource(s reeltime.AudioSource) {
	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
}

func (m *Mixer) ReadAudio(buffer reeltime.AudioBuffer) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range buffer {
		buffer[i] = [2]float32{}
	}
	if cap(m.scratch) < len(buffer) {
		m.scratch = make(reeltime.AudioBuffer, len(buffer))
	}
	scratch := m.scratch[:len(buffer)]
	for _, src := range m.sources {
		n, err := src.ReadAudio(scratch)
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			buffer[i][0] += scratch[i][0]
			buffer[i][1] += scratch[i][1]
		}
	}
	return len(buffer), nil
}
