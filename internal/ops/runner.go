package ops

import (
	"fmt"
	"strings"
)

// Runner executes external system commands (cryptsetup, systemctl, iptables,
// mkfs, ...). Implementations return the command's combined output; a non-zero
// exit is reported as an error wrapping that output.
type Runner interface {
	// Run executes name with args and returns combined stdout/stderr.
	Run(name string, args ...string) ([]byte, error)
	// RunInput is Run with data supplied on the command's stdin. Used for
	// commands that read secrets from stdin (e.g. cryptsetup --key-file -).
	RunInput(input []byte, name string, args ...string) ([]byte, error)
	// LookPath reports whether the named command is available.
	LookPath(name string) (string, error)
}

// CmdError wraps a failed external command with its output, so callers can
// report what the tool printed without re-running it.
type CmdError struct {
	Name   string
	Args   []string
	Output []byte
	Err    error
}

func (e *CmdError) Error() string {
	out := strings.TrimSpace(string(e.Output))
	if out == "" {
		return fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %s", e.Name, strings.Join(e.Args, " "), e.Err, out)
}

func (e *CmdError) Unwrap() error { return e.Err }
