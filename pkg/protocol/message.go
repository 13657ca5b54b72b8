// Package protocol defines the line-oriented wire format spoken by the
// bulls-and-cows game server.
package protocol

import "strings"

// Server tokens. Each one arrives as a single newline-terminated line.
const (
	SuccessfulConnection = "SC"
	NicknameInUse        = "NIU"
	NicknameSet          = "NS"
	YourTurn             = "UT"
	OpponentTurn         = "OT"
	OpponentDisconnected = "OD"
	GameStart            = "SG"
	Win                  = "WIN"
	Loss                 = "LOST"
	EndGame              = "EG"
	WrongFormat          = "WF"
	InvalidGuess         = "IG"
	WrongTurn            = "WT"
)

const (
	// Delimiter terminates every line in both directions.
	Delimiter = '\n'

	// GuessMarker starts a guess result from the server and tags an
	// outgoing guess from the client.
	GuessMarker = 'G'
	BullsMarker = 'B'
	CowsMarker  = 'C'

	// Heartbeat is the keep-alive payload. The server never answers it.
	Heartbeat = "PING"
)

// Kind classifies a decoded server line.
type Kind int

const (
	KindUnknown Kind = iota
	KindSuccessfulConnection
	KindNicknameInUse
	KindNicknameSet
	KindYourTurn
	KindOpponentTurn
	KindOpponentDisconnected
	KindGameStart
	KindWin
	KindLoss
	KindEndGame
	KindWrongFormat
	KindInvalidGuess
	KindWrongTurn
	KindGuessResult
	KindMalformedGuess
)

var fixedTokens = map[string]Kind{
	SuccessfulConnection: KindSuccessfulConnection,
	NicknameInUse:        KindNicknameInUse,
	NicknameSet:          KindNicknameSet,
	YourTurn:             KindYourTurn,
	OpponentTurn:         KindOpponentTurn,
	OpponentDisconnected: KindOpponentDisconnected,
	GameStart:            KindGameStart,
	Win:                  KindWin,
	Loss:                 KindLoss,
	EndGame:              KindEndGame,
	WrongFormat:          KindWrongFormat,
	InvalidGuess:         KindInvalidGuess,
	WrongTurn:            KindWrongTurn,
}

// String returns a stable snake_case name, suitable for log fields and
// metric labels.
func (k Kind) String() string {
	switch k {
	case KindSuccessfulConnection:
		return "successful_connection"
	case KindNicknameInUse:
		return "nickname_in_use"
	case KindNicknameSet:
		return "nickname_set"
	case KindYourTurn:
		return "your_turn"
	case KindOpponentTurn:
		return "opponent_turn"
	case KindOpponentDisconnected:
		return "opponent_disconnected"
	case KindGameStart:
		return "game_start"
	case KindWin:
		return "win"
	case KindLoss:
		return "loss"
	case KindEndGame:
		return "end_game"
	case KindWrongFormat:
		return "wrong_format"
	case KindInvalidGuess:
		return "invalid_guess"
	case KindWrongTurn:
		return "wrong_turn"
	case KindGuessResult:
		return "guess_result"
	case KindMalformedGuess:
		return "malformed_guess"
	default:
		return "unknown"
	}
}

// Message is one decoded server token.
type Message struct {
	Kind  Kind
	Raw   string
	Guess GuessResult
	// Err is set only for KindMalformedGuess.
	Err error
}

// Decode classifies a trimmed token. Exact matches against the fixed token
// table win; anything else starting with the guess marker goes through
// ParseGuess; the rest is KindUnknown. Decode never fails.
func Decode(token string) Message {
	if kind, ok := fixedTokens[token]; ok {
		return Message{Kind: kind, Raw: token}
	}
	if len(token) > 0 && token[0] == GuessMarker {
		g, err := ParseGuess(token)
		if err != nil {
			return Message{Kind: KindMalformedGuess, Raw: token, Err: err}
		}
		return Message{Kind: KindGuessResult, Raw: token, Guess: g}
	}
	return Message{Kind: KindUnknown, Raw: token}
}

// EncodeLine terminates payload with the delimiter. Trailing CR/LF already
// present in payload is dropped so a payload never produces an empty line.
func EncodeLine(payload string) []byte {
	payload = strings.TrimRight(payload, "\r\n")
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	return append(buf, Delimiter)
}
