package engine

import (
	"sync"
	"time"

	"github.com/reeltime-audio/reeltime"
)

type (
	// NoteScheduler fires note-on/note-off pairs of one track against the
	// clock. A periodic scan (fixed interval, independent of any UI frame
	// rate) looks a fixed window ahead and commits every note whose start
	// falls inside the window to deferred timers, so note timing is immune
	// to rendering jitter. The per-note key prevents a note from ever being
	// committed twice while it is pending.
	NoteScheduler struct {
		mu         sync.Mutex
		clock      Clock
		broker     *Broker
		instrument reeltime.Instrument

		scanInterval time.Duration
		lookahead    time.Duration

		notes []reeltime.Note
		tempo float64

		playing    bool
		startBeat  float64
		origin     time.Time // clock time at which the beat was startBeat
		pausedBeat float64
		generation int
		pending    map[noteKey]*pendingNote
		quit       chan struct{}
		done       chan struct{}
	}

	// State is the observable snapshot of a NoteScheduler.
	State struct {
		Playing     bool
		CurrentBeat float64
		Tempo       float64
		Pending     int
	}

	noteKey struct {
		pitch int
		start float64
	}

	pendingNote struct {
		onTimer  *time.Timer
		offTimer *time.Timer
		offAt    time.Time
		onFired  bool
	}
)

func NewNoteScheduler(clock Clock, broker *Broker, instrument reeltime.Instrument, cfg Config) *NoteScheduler {
	return &NoteScheduler{
		clock:        clock,
		broker:       broker,
		instrument:   instrument,
		scanInterval: cfg.ScanInterval,
		lookahead:    cfg.Lookahead,
		tempo:        120,
		pending:      make(map[noteKey]*pendingNote),
	}
}

// SetNotes replaces the note set. Notes that were committed to timers but
// have not fired yet are cancelled, so a changed set cannot double fire or
// play removed notes.
func (s *NoteScheduler) SetNotes(notes []reeltime.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.pending {
		if !p.onFired && p.onTimer != nil && p.onTimer.Stop() {
			if p.offTimer != nil {
				p.offTimer.Stop()
			}
			delete(s.pending, key)
		}
	}
	s.notes = notes
}

// SetTempo changes the playback tempo. Beats that already fired keep their
// wall times; the origin is rebased so the current beat stays continuous and
// only subsequently scheduled notes use the new conversion.
func (s *NoteScheduler) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		now := s.clock.Now()
		s.startBeat = s.beatAtLocked(now)
		s.origin = now
	}
	s.tempo = bpm
}

// Start establishes the time origin so that elapsed*(tempo/60)+startBeat is
// the current beat, and begins the periodic lookahead scan.
func (s *NoteScheduler) Start(startBeat float64) {
	s.mu.Lock()
	if s.playing {
		s.stopLocked()
	}
	s.playing = true
	s.startBeat = startBeat
	s.origin = s.clock.Now()
	s.generation++
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	quit, done := s.quit, s.done
	s.scanLocked()
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.playing {
					s.scanLocked()
				}
				s.mu.Unlock()
			}
		}
	}()
}

// windowContains reports whether a note starting at start belongs to the
// lookahead window [lo, hi): the lower bound is inclusive so a note exactly
// at the current beat fires, the upper bound exclusive so consecutive
// windows never claim the same boundary twice.
func windowContains(start, lo, hi float64) bool {
	return start >= lo && start < hi
}

// scanLocked commits every note inside the lookahead window to timers and
// prunes bookkeeping for notes whose note-off is already in the past.
func (s *NoteScheduler) scanLocked() {
	now := s.clock.Now()
	for key, p := range s.pending {
		if p.onFired && now.After(p.offAt) {
			delete(s.pending, key)
		}
	}
	currentBeat := s.beatAtLocked(now)
	lookaheadBeats := reeltime.SecondsToBeats(s.lookahead.Seconds(), s.tempo)
	gen := s.generation
	for _, n := range s.notes {
		if !windowContains(n.Start, currentBeat, currentBeat+lookaheadBeats) {
			continue
		}
		if !n.PitchValid() {
			continue
		}
		key := noteKey{pitch: n.Pitch, start: n.Start}
		if _, ok := s.pending[key]; ok {
			continue
		}
		onDelay := time.Duration(reeltime.BeatsToSeconds(n.Start-currentBeat, s.tempo) * float64(time.Second))
		if onDelay < 0 {
			onDelay = 0
		}
		offDelay := onDelay + time.Duration(reeltime.BeatsToSeconds(n.Duration, s.tempo)*float64(time.Second))
		p := &pendingNote{offAt: now.Add(offDelay)}
		pitch, velocity := n.Pitch, n.Velocity
		p.onTimer = time.AfterFunc(onDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if gen != s.generation {
				return
			}
			p.onFired = true
			s.instrument.PlayNote(pitch, velocity)
		})
		p.offTimer = time.AfterFunc(offDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if gen != s.generation {
				return
			}
			s.instrument.StopNote(pitch)
		})
		s.pending[key] = p
	}
}

func (s *NoteScheduler) beatAtLocked(now time.Time) float64 {
	return s.startBeat + reeltime.SecondsToBeats(now.Sub(s.origin).Seconds(), s.tempo)
}

// Stop cancels the periodic scan, force-stops everything still sounding,
// clears the scheduled-note bookkeeping and resets the position to 0.
// Idempotent.
func (s *NoteScheduler) Stop() {
	s.mu.Lock()
	done := s.done
	s.stopLocked()
	s.mu.Unlock()
	if done != nil {
		// the scan goroutine may be blocked on the mutex, so wait outside it
		<-done
	}
}

func (s *NoteScheduler) stopLocked() {
	if !s.playing {
		return
	}
	s.playing = false
	s.generation++ // in-flight timer callbacks become no-ops
	close(s.quit)
	for key, p := range s.pending {
		if p.onTimer != nil {
			p.onTimer.Stop()
		}
		if p.offTimer != nil {
			p.offTimer.Stop()
		}
		delete(s.pending, key)
	}
	s.instrument.StopAllNotes()
	s.startBeat = 0
	s.pausedBeat = 0
}

// Pause remembers the current beat and stops.
func (s *NoteScheduler) Pause() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	beat := s.beatAtLocked(s.clock.Now())
	done := s.done
	s.stopLocked()
	s.pausedBeat = beat
	s.mu.Unlock()
	<-done
}

// Resume re-enters playback at the beat remembered by Pause.
func (s *NoteScheduler) Resume() {
	s.mu.Lock()
	beat := s.pausedBeat
	s.mu.Unlock()
	s.Start(beat)
}

// Seek stops, repositions, and restarts if the scheduler was running.
func (s *NoteScheduler) Seek(beat float64) {
	s.mu.Lock()
	wasPlaying := s.playing
	s.mu.Unlock()
	if wasPlaying {
		s.Stop()
		s.Start(beat)
		return
	}
	s.mu.Lock()
	s.pausedBeat = beat
	s.mu.Unlock()
}

// GetState returns the current observable state.
func (s *NoteScheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	beat := s.pausedBeat
	if s.playing {
		beat = s.beatAtLocked(s.clock.Now())
	}
	return State{
		Playing:     s.playing,
		CurrentBeat: beat,
		Tempo:       s.tempo,
		Pending:     len(s.pending),
	}
}
