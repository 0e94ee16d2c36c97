// Package console implements the interactive confirmation and secret-entry
// capabilities against a real terminal.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"wsk-go/internal/ops"
)

// Console reads operator confirmations from an input stream and writes
// prompts to an output stream. There is no timeout: a prompt blocks until
// the operator answers or kills the process.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

var (
	_ ops.Confirmer = (*Console)(nil)
	_ ops.Prompter  = (*Console)(nil)
)

// New creates a Console reading from in and prompting on out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// NewStdio creates a Console bound to os.Stdin/os.Stderr.
func NewStdio() *Console {
	return New(os.Stdin, os.Stderr)
}

// Confirm shows the gate's prompt and reads one line of input.
func (c *Console) Confirm(g ops.Gate) (bool, error) {
	if g.CaseSensitive {
		fmt.Fprintf(c.out, "%s Type %q to continue: ", g.Prompt, g.Literal)
	} else {
		fmt.Fprintf(c.out, "%s [%s/N]: ", g.Prompt, g.Literal)
	}

	line, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	return g.Accepts(line), nil
}

// ReadSecret reads a passphrase from the controlling terminal without echo.
func (c *Console) ReadSecret(prompt string) ([]byte, error) {
	fmt.Fprintf(c.out, "%s: ", prompt)
	defer fmt.Fprintln(c.out)

	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	return secret, nil
}
