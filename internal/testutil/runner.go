package testutil

import (
	"fmt"
	"strings"
	"sync"

	"wsk-go/internal/ops"
)

// FakeRunner records every command it is asked to execute and serves canned
// responses. Unconfigured commands succeed with empty output, matching the
// best-effort sweeps where most tool invocations are expected to work.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []string
	inputs    map[string][]byte
	responses map[string]fakeResponse
	missing   map[string]bool
}

type fakeResponse struct {
	output []byte
	err    error
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		inputs:    make(map[string][]byte),
		responses: make(map[string]fakeResponse),
		missing:   make(map[string]bool),
	}
}

var _ ops.Runner = (*FakeRunner)(nil)

func key(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Respond configures the output and error returned for an exact command line.
func (r *FakeRunner) Respond(cmdline string, output []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[cmdline] = fakeResponse{output: output, err: err}
}

// Fail configures an exact command line to fail with the given message.
func (r *FakeRunner) Fail(cmdline string, msg string) {
	r.Respond(cmdline, []byte(msg), fmt.Errorf("exit status 1"))
}

// MarkMissing makes LookPath fail for the named command.
func (r *FakeRunner) MarkMissing(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing[name] = true
}

func (r *FakeRunner) Run(name string, args ...string) ([]byte, error) {
	return r.RunInput(nil, name, args...)
}

func (r *FakeRunner) RunInput(input []byte, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(name, args)
	r.calls = append(r.calls, k)
	if input != nil {
		r.inputs[k] = append([]byte(nil), input...)
	}

	if resp, ok := r.responses[k]; ok {
		if resp.err != nil {
			return resp.output, &ops.CmdError{Name: name, Args: args, Output: resp.output, Err: resp.err}
		}
		return resp.output, nil
	}
	return nil, nil
}

func (r *FakeRunner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/sbin/" + name, nil
}

// Calls returns every recorded command line, in order.
func (r *FakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Called reports whether any recorded command line contains substr.
func (r *FakeRunner) Called(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// InputFor returns the stdin recorded for an exact command line, or nil.
func (r *FakeRunner) InputFor(cmdline string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[cmdline]
}
