package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedGuess is returned when a guess result does not follow
// G<guess>B<bulls>C<cows>.
var ErrMalformedGuess = errors.New("protocol: malformed guess response")

// GuessResult is the server's score for one guess. The parts are kept as
// opaque text; the server decides what digits mean.
type GuessResult struct {
	Guess string
	Bulls string
	Cows  string
}

// String renders the result the way it is shown in the chat log.
func (g GuessResult) String() string {
	return fmt.Sprintf("Guess: %s | Bulls: %s | Cows: %s", g.Guess, g.Bulls, g.Cows)
}

// ParseGuess splits a guess result token. The bulls marker must leave a
// non-empty guess and the cows marker a non-empty bulls part; the cows part
// may be empty.
func ParseGuess(token string) (GuessResult, error) {
	if len(token) == 0 || token[0] != GuessMarker {
		return GuessResult{}, fmt.Errorf("%w: missing %q prefix in %q", ErrMalformedGuess, GuessMarker, token)
	}

	b := strings.IndexByte(token, BullsMarker)
	c := strings.IndexByte(token, CowsMarker)
	if b < 2 || c < b+2 {
		return GuessResult{}, fmt.Errorf("%w: %q", ErrMalformedGuess, token)
	}

	return GuessResult{
		Guess: token[1:b],
		Bulls: token[b+1 : c],
		Cows:  token[c+1:],
	}, nil
}
