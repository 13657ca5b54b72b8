// Package game holds the client-side view of a bulls-and-cows session: the
// state a server token moves the client into and the effect it has on the
// presentation layer.
package game

// State is the client's position in the session.
type State int

const (
	StateConnecting State = iota
	StateWaitingForNickname
	StateInGame
	StateDisconnected
	StateEnded
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWaitingForNickname:
		return "waiting_for_nickname"
	case StateInGame:
		return "in_game"
	case StateDisconnected:
		return "disconnected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Toggle is a requested change to a boolean presentation flag.
type Toggle int

const (
	Unchanged Toggle = iota
	On
	Off
)

// Apply returns the flag value after the toggle.
func (t Toggle) Apply(current bool) bool {
	switch t {
	case On:
		return true
	case Off:
		return false
	default:
		return current
	}
}

// Effect is what a transition asks of the presentation layer.
type Effect struct {
	Notice string
	// Input enables or disables user sends.
	Input Toggle
	// Opponent marks the opponent connected (On) or disconnected (Off).
	Opponent Toggle
	// Close asks the engine to drop the connection and end the session.
	Close bool
}
