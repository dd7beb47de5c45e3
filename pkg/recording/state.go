package recording

import (
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned by Start while the connection is not Connected.
	ErrNotConnected = errors.New("not connected")
	// ErrBackpressureExceeded ends a recording whose queue overflowed.
	ErrBackpressureExceeded = errors.New("recording backpressure exceeded")
	// ErrInterruptedByDisconnect ends a recording when the connection drops.
	ErrInterruptedByDisconnect = errors.New("recording interrupted by disconnect")
	// ErrFileWriteFailed wraps file open, write, flush and close errors.
	ErrFileWriteFailed = errors.New("file write failed")
	// ErrNoFileChosen is returned by Start before ChooseFile, and by ChooseFile
	// with an empty path.
	ErrNoFileChosen = errors.New("no file chosen")
	// ErrAlreadyRecording is returned by Start while recording.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrRecordingActive is returned by ChooseFile while recording.
	ErrRecordingActive = errors.New("cannot change file while recording")
	// ErrStopped is returned by commands issued after the controller stopped.
	ErrStopped = errors.New("recording controller stopped")
)

// State is the recording lifecycle state.
type State int

const (
	Idle State = iota
	FileChosen
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileChosen:
		return "file chosen"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the recording controller.
type Snapshot struct {
	State State
	Path  string

	// Set while recording and kept after it ends.
	SessionStart   time.Time
	SamplesWritten uint64

	// Why the last recording ended, nil after a requested stop.
	LastError error
}
