package ops

import (
	"fmt"
	"os"
)

var geteuid = os.Geteuid

// RequireRoot verifies the process runs with root privileges. Mutating
// commands check this once at start, before any prompt or mutation.
func RequireRoot(operation string) error {
	if geteuid() != 0 {
		return Precondition(operation, fmt.Errorf("must be run as root"))
	}
	return nil
}
