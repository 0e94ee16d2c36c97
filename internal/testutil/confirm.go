package testutil

import "wsk-go/internal/ops"

// StubConfirmer answers confirmation gates from a queue of canned inputs and
// records every gate it was shown. When the queue runs dry it answers with
// Default (typically empty, i.e. declined).
type StubConfirmer struct {
	Inputs  []string
	Default string
	Gates   []ops.Gate
}

var _ ops.Confirmer = (*StubConfirmer)(nil)

// NewStubConfirmer creates a StubConfirmer answering the given inputs in order.
func NewStubConfirmer(inputs ...string) *StubConfirmer {
	return &StubConfirmer{Inputs: inputs}
}

func (c *StubConfirmer) Confirm(g ops.Gate) (bool, error) {
	c.Gates = append(c.Gates, g)

	input := c.Default
	if len(c.Inputs) > 0 {
		input = c.Inputs[0]
		c.Inputs = c.Inputs[1:]
	}
	return g.Accepts(input), nil
}

// StubPrompter returns a fixed secret for every prompt and records the
// prompts it was shown.
type StubPrompter struct {
	Secret  []byte
	Prompts []string
}

var _ ops.Prompter = (*StubPrompter)(nil)

func (p *StubPrompter) ReadSecret(prompt string) ([]byte, error) {
	p.Prompts = append(p.Prompts, prompt)
	return append([]byte(nil), p.Secret...), nil
}
