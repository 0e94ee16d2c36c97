// Package run provides the os/exec-backed command runner used by all
// device, service and firewall operations.
package run

import (
	"bytes"
	"os/exec"

	"wsk-go/internal/ops"
)

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	logger ops.Logger
}

var _ ops.Runner = (*OSRunner)(nil)

// NewOSRunner creates a runner that logs each invocation to logger.
func NewOSRunner(logger ops.Logger) *OSRunner {
	return &OSRunner{logger: logger}
}

// Run executes name with args and returns combined stdout/stderr.
func (r *OSRunner) Run(name string, args ...string) ([]byte, error) {
	return r.RunInput(nil, name, args...)
}

// RunInput is Run with data supplied on the command's stdin.
func (r *OSRunner) RunInput(input []byte, name string, args ...string) ([]byte, error) {
	r.logger.Debug("exec", "cmd", name, "args", args)

	cmd := exec.Command(name, args...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &ops.CmdError{Name: name, Args: args, Output: out, Err: err}
	}
	return out, nil
}

// LookPath reports whether the named command is available on PATH.
func (r *OSRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
