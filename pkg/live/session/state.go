// Package session runs one duplex voice session at a time against the
// remote assistant: it dials, streams the microphone, schedules the
// assistant's speech and answers tool calls.
package session

import "github.com/vango-go/soporte-live/pkg/live/protocol"

// State is the externally observable connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// EventKind enumerates the lifecycle events of a session.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is posted to a session's event loop by its auxiliary goroutines.
type Event struct {
	Kind    EventKind
	Message protocol.Inbound
	Err     error
}

// transition returns the state reached from s on an event of kind k.
// Disconnect is not an event: it forces StateDisconnected directly.
func transition(s State, k EventKind) State {
	switch k {
	case EventOpen:
		if s == StateConnecting {
			return StateConnected
		}
	case EventClose:
		if s == StateConnecting || s == StateConnected {
			return StateDisconnected
		}
	case EventError:
		if s == StateConnecting || s == StateConnected {
			return StateError
		}
	}
	return s
}
