package ops

import (
	"errors"
	"strings"
)

// ErrDeclined is returned when the operator does not supply the exact
// confirmation literal a destructive gate requires.
var ErrDeclined = errors.New("confirmation declined")

// Gate describes one interactive confirmation: the prompt shown to the
// operator, the exact literal that confirms, and whether the comparison is
// case-sensitive. The literal and mode are part of each step's contract:
// destructive actions use the case-sensitive "YES" gate, optional hardening
// steps use the case-insensitive "y" gate.
type Gate struct {
	Prompt        string
	Literal       string
	CaseSensitive bool
}

// DestructiveGate is the gate placed in front of irreversible actions
// (formatting, wiping, raw device writes). Input "yes" does not pass.
func DestructiveGate(prompt string) Gate {
	return Gate{Prompt: prompt, Literal: "YES", CaseSensitive: true}
}

// OptionalGate is the y/N gate for independently skippable steps.
func OptionalGate(prompt string) Gate {
	return Gate{Prompt: prompt, Literal: "y", CaseSensitive: false}
}

// Accepts reports whether the given operator input passes the gate.
func (g Gate) Accepts(input string) bool {
	input = strings.TrimRight(input, "\r\n")
	if g.CaseSensitive {
		return input == g.Literal
	}
	return strings.EqualFold(input, g.Literal)
}

// Confirmer obtains interactive confirmation from the operator. Implementations
// block on line input with no timeout; cancellation is operator-driven process
// termination only.
type Confirmer interface {
	// Confirm shows the gate's prompt and reports whether the operator's
	// input passed the gate.
	Confirm(g Gate) (bool, error)
}

// Prompter reads a secret (e.g. an existing LUKS passphrase) without echo.
type Prompter interface {
	ReadSecret(prompt string) ([]byte, error)
}
