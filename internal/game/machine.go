package game

import (
	"sync"

	"github.com/omochice/bullscows-client/pkg/protocol"
)

// Transition maps the current state and a decoded token to the next state
// and its effect. It is pure: the result depends only on its arguments.
func Transition(s State, msg protocol.Message) (State, Effect) {
	switch msg.Kind {
	case protocol.KindSuccessfulConnection:
		return StateWaitingForNickname, Effect{
			Notice:   "Connected! Please enter your nickname.",
			Input:    On,
			Opponent: Off,
		}
	case protocol.KindNicknameInUse:
		return s, Effect{Notice: "Nickname is already in use. Please try another."}
	case protocol.KindNicknameSet:
		return StateInGame, Effect{
			Notice: "Nickname set successfully. Waiting for opponent...",
			Input:  Off,
		}
	case protocol.KindYourTurn:
		return StateInGame, Effect{Notice: "It's your turn!", Input: On, Opponent: On}
	case protocol.KindOpponentTurn:
		return StateInGame, Effect{Notice: "It's the opponent's turn.", Input: Off, Opponent: On}
	case protocol.KindOpponentDisconnected:
		return StateDisconnected, Effect{
			Notice:   "Your opponent has disconnected. Waiting for a new player.",
			Input:    Off,
			Opponent: Off,
		}
	case protocol.KindGameStart:
		return s, Effect{Notice: "The game has started!", Opponent: On}
	case protocol.KindWin:
		return s, Effect{Notice: "Congratulations! You won!"}
	case protocol.KindLoss:
		return s, Effect{Notice: "You lost. Better luck next time!"}
	case protocol.KindEndGame:
		return StateWaitingForNickname, Effect{
			Notice:   "Game over. Enter a new nickname to play again.",
			Input:    On,
			Opponent: Off,
		}
	case protocol.KindWrongFormat:
		return StateEnded, Effect{
			Notice: "Invalid message format. Disconnecting...",
			Input:  Off,
			Close:  true,
		}
	case protocol.KindInvalidGuess:
		return s, Effect{Notice: "Invalid guess format. Try again..."}
	case protocol.KindWrongTurn:
		return s, Effect{Notice: "It's not your turn!"}
	case protocol.KindGuessResult:
		return s, Effect{Notice: msg.Guess.String()}
	case protocol.KindMalformedGuess:
		return s, Effect{Notice: "Malformed guess response from server."}
	default:
		return s, Effect{Notice: "Unknown message from server: " + msg.Raw}
	}
}

// Outbound prepares user text for the wire. While a game is running the
// text is a guess and carries the guess marker; otherwise it goes as is.
func Outbound(s State, text string) string {
	if s == StateInGame {
		return string(protocol.GuessMarker) + text
	}
	return text
}

// Machine is the session's single owner of State. Reads are safe from any
// goroutine; Apply is called by the reader only.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine returns a machine in StateConnecting.
func NewMachine() *Machine {
	return &Machine{state: StateConnecting}
}

// Apply runs Transition against the current state and stores the result.
// It returns the previous state alongside the effect.
func (m *Machine) Apply(msg protocol.Message) (State, State, Effect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	next, effect := Transition(prev, msg)
	m.state = next
	return prev, next, effect
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Reset moves the machine back to StateConnecting ahead of a new connection.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateConnecting
}
