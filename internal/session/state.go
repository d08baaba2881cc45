// Package session coordinates the two resources of a live translation: the
// local audio pipeline (microphone, encoder, playback device) and the remote
// provider session. The two fail independently; a dropped session is rebuilt
// on its own while the pipeline stays acquired, and only a pipeline failure
// triggers a full rebuild.
//
// All lifecycle decisions are made by the pure [Transition] function. The
// [Coordinator] runs a single event loop that feeds inputs into it and
// executes the returned actions.
package session

import "fmt"

// ConnectionState is the user-visible lifecycle state.
type ConnectionState int

const (
	// StateDisconnected means no resources are held and none are wanted.
	StateDisconnected ConnectionState = iota
	// StateConnecting covers pipeline acquisition, session open and the
	// reconnect backoff window.
	StateConnecting
	// StateConnected means a session is active over an acquired pipeline.
	StateConnected
	// StateError means an acquisition failed. It is left only by an explicit
	// connect or disconnect.
	StateError
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the complete lifecycle state consumed and produced by
// [Transition].
type Snapshot struct {
	State ConnectionState
	Err   string

	// Intent is true while the user wants to be connected. It gates every
	// automatic reconnect.
	Intent bool

	PipelineUp    bool
	SessionActive bool

	// Reconnecting is true while an automatic attempt is in flight. A
	// failed open then schedules another attempt instead of ending in
	// StateError.
	Reconnecting bool

	// Gen identifies the most recent asynchronous acquisition (pipeline or
	// session). Results and events carrying any other value are stale.
	Gen uint64

	// ReconnectPending is true while a reconnect timer is armed.
	// ReconnectSeq identifies that timer.
	ReconnectPending bool
	ReconnectSeq     uint64
}

// Status is the snapshot published to subscribers.
type Status struct {
	State            ConnectionState `json:"state"`
	Err              string          `json:"error,omitempty"`
	PipelineUp       bool            `json:"pipeline_up"`
	SessionActive    bool            `json:"session_active"`
	ReconnectPending bool            `json:"reconnect_pending"`
	Provider         string          `json:"provider"`
	Generation       uint64          `json:"generation"`
}

func statusOf(s Snapshot, provider string) Status {
	return Status{
		State:            s.State,
		Err:              s.Err,
		PipelineUp:       s.PipelineUp,
		SessionActive:    s.SessionActive,
		ReconnectPending: s.ReconnectPending,
		Provider:         provider,
		Generation:       s.Gen,
	}
}
