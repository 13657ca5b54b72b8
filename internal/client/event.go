package client

import "github.com/omochice/bullscows-client/internal/game"

// EventType identifies what changed for the presentation layer.
type EventType int

const (
	EventNotice EventType = iota
	EventInput
	EventOpponent
	EventState
	EventShutdown
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventNotice:
		return "notice"
	case EventInput:
		return "input"
	case EventOpponent:
		return "opponent"
	case EventState:
		return "state"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is one update for the presentation layer. Every event carries a
// snapshot of the flags as they are after the change.
type Event struct {
	Type              EventType
	Text              string
	State             game.State
	InputEnabled      bool
	OpponentConnected bool
	// Err is the cause of an EventShutdown; nil after a user-initiated Close.
	Err error
}
