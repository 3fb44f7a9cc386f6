package reeltime

import (
	"fmt"
	"time"
)

// DecodeError means a source could not be decoded to PCM. It is never fatal
// to the engine: the clip or take it belongs to stays in the data model with
// a placeholder duration, only its playback is dropped.
type DecodeError struct {
	Source string // name or id of the source that failed
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %v failed: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AlreadyRecordingError is returned when a recording is started on a track
// that already has an active session; the caller must stop the session
// first.
type AlreadyRecordingError struct {
	TrackID string
}

func (e *AlreadyRecordingError) Error() string {
	return fmt.Sprintf("track %v is already recording", e.TrackID)
}

// DeviceAcquisitionError means the input device for a recording could not be
// claimed. The coordinator makes no state transition when this happens.
type DeviceAcquisitionError struct {
	Device string
	Err    error
}

func (e *DeviceAcquisitionError) Error() string {
	return fmt.Sprintf("acquiring input device %v failed: %v", e.Device, e.Err)
}

func (e *DeviceAcquisitionError) Unwrap() error { return e.Err }

// SchedulingTimeoutError means an off-thread request exceeded its deadline.
// The requester force fails the operation and falls back to the in-process
// path rather than hanging on the worker.
type SchedulingTimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *SchedulingTimeoutError) Error() string {
	return fmt.Sprintf("%v did not finish within %v", e.Op, e.Timeout)
}
