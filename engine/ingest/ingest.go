// Package ingest turns opaque audio sources into decoded PCM plus the
// duration and waveform peaks the UI needs, preferring an off-thread decode
// path with a synchronous in-process fallback.
package ingest

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/reeltime-audio/reeltime"
	"github.com/reeltime-audio/reeltime/engine"
)

// Stage names of the ingest progress reporting, in order.
const (
	StageReading  = "reading"
	StageDecoding = "decoding"
	StagePeaks    = "generating-peaks"
	StageComplete = "complete"
	StageError    = "error"
)

// ProgressFunc receives the named stage and a percentage 0..100. nil is
// allowed when the caller does not care.
type ProgressFunc func(stage string, percent int)

// Result of one ingest job.
type Result struct {
	PCM      *reeltime.PCM
	Duration float64
	Peaks    []Peak
}

// Stats are observability counters of a pipeline, not correctness state.
type Stats struct {
	OffThread int64 // jobs decoded on the worker
	Inline    int64 // jobs decoded in-process
	Errors    int64 // jobs that ended in a decode error
	Fallbacks int64 // off-thread attempts that failed over to inline
}

// Pipeline decodes sources and computes their waveform peaks. The off-thread
// strategy is tried first; the first time it fails (error or deadline), the
// pipeline switches to the inline strategy for all pending and subsequent
// work and never retries off-thread in this session (sticky fallback).
type Pipeline struct {
	inline    reeltime.Decoder
	offThread *OffThreadDecoder
	timeout   time.Duration

	samplesPerPixel int
	fellBack        atomic.Bool

	offThreadCount atomic.Int64
	inlineCount    atomic.Int64
	errorCount     atomic.Int64
	fallbackCount  atomic.Int64
}

// NewPipeline builds a pipeline. offThread may be nil, which means inline
// only (e.g. in the offline renderer); the caller is responsible for running
// the off-thread worker's Run loop.
func NewPipeline(inline reeltime.Decoder, offThread *OffThreadDecoder, cfg engine.Config) *Pipeline {
	return &Pipeline{
		inline:          inline,
		offThread:       offThread,
		timeout:         cfg.IngestTimeout,
		samplesPerPixel: cfg.SamplesPerPixel,
	}
}

// Process decodes the source and computes duration and peaks, reporting
// progress through the discrete named stages. A decode failure is returned
// as a *DecodeError with the error stage reported at 100%; the pipeline
// itself stays usable for subsequent sources.
func (p *Pipeline) Process(src *reeltime.SourceRef, onProgress ProgressFunc) (Result, error) {
	report := func(stage string, percent int) {
		if onProgress != nil {
			onProgress(stage, percent)
		}
	}
	report(StageReading, 10)
	report(StageReading, 40)

	report(StageDecoding, 50)
	pcm, err := p.decode(src)
	if err != nil {
		p.errorCount.Add(1)
		report(StageError, 100)
		var derr *reeltime.DecodeError
		if !errors.As(err, &derr) {
			err = &reeltime.DecodeError{Source: src.Name, Err: err}
		}
		return Result{}, err
	}
	report(StageDecoding, 85)

	report(StagePeaks, 85)
	peaks := ComputePeaks(pcm, p.samplesPerPixel)
	report(StagePeaks, 100)
	report(StageComplete, 100)
	return Result{PCM: pcm, Duration: pcm.Duration(), Peaks: peaks}, nil
}

// decode picks the strategy: off-thread until its first failure, inline
// after. A decode error from the source itself is not a strategy failure;
// only the worker breaking (timeout, channel refusal) trips the fallback.
func (p *Pipeline) decode(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	if p.offThread != nil && !p.fellBack.Load() {
		pcm, err := p.offThread.DecodeDeadline(src, p.timeout)
		var terr *reeltime.SchedulingTimeoutError
		if errors.As(err, &terr) {
			p.fellBack.Store(true)
			p.fallbackCount.Add(1)
		} else {
			p.offThreadCount.Add(1)
			return pcm, err
		}
	}
	p.inlineCount.Add(1)
	return p.inline.Decode(src)
}

// Decode makes the pipeline usable directly as a reeltime.Decoder, e.g. by
// the clip scheduler, sharing the same strategy selection and counters.
func (p *Pipeline) Decode(src *reeltime.SourceRef) (*reeltime.PCM, error) {
	pcm, err := p.decode(src)
	if err != nil {
		p.errorCount.Add(1)
	}
	return pcm, err
}

// GetStats returns the pipeline's counters.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		OffThread: p.offThreadCount.Load(),
		Inline:    p.inlineCount.Load(),
		Errors:    p.errorCount.Load(),
		Fallbacks: p.fallbackCount.Load(),
	}
}
