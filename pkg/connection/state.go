package connection

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyConnected is returned by Connect while a transport is open.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrTransportOpenFailed wraps the error from opening the transport.
	ErrTransportOpenFailed = errors.New("transport open failed")
	// ErrTransportReadFailed wraps the error that ended a read loop.
	ErrTransportReadFailed = errors.New("transport read failed")
	// ErrStopped is returned by commands issued after the controller stopped.
	ErrStopped = errors.New("connection controller stopped")
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the controller state.
type Snapshot struct {
	State     State
	Port      string
	Session   uint64 // Incremented on every successful connect
	Since     time.Time
	LastError error

	// Counters of the current (or last) connection session.
	LinesRead uint64
	Malformed uint64
	Samples   uint64
}
