// Package luks wraps the cryptsetup operations needed to register a keyfile
// as an additional unlock secret for a LUKS volume.
package luks

import (
	"fmt"

	"wsk-go/internal/ops"
)

// Manager performs LUKS header operations on block devices via cryptsetup.
type Manager struct {
	runner ops.Runner
}

// NewManager creates a LUKS manager using the given runner.
func NewManager(runner ops.Runner) *Manager {
	return &Manager{runner: runner}
}

// CheckAvailable verifies that cryptsetup is installed.
func (m *Manager) CheckAvailable() error {
	if _, err := m.runner.LookPath("cryptsetup"); err != nil {
		return fmt.Errorf("cryptsetup not found: %w", err)
	}
	return nil
}

// IsLUKS reports whether dev carries a LUKS header. A negative result is not
// an error; callers treat it as a failed precondition.
func (m *Manager) IsLUKS(dev string) (bool, error) {
	if _, err := m.runner.Run("cryptsetup", "isLuks", dev); err != nil {
		return false, nil
	}
	return true, nil
}

// KeyfileUnlocks probes whether the keyfile already opens a keyslot of dev,
// without activating the volume. This is the duplicate-slot guard: a keyfile
// that already unlocks is never registered a second time.
func (m *Manager) KeyfileUnlocks(dev, keyfile string) (bool, error) {
	_, err := m.runner.Run("cryptsetup", "open", "--test-passphrase", "--key-file", keyfile, dev)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// AddKeyfile registers keyfile as an additional keyslot of dev, authorized by
// an existing passphrase supplied on cryptsetup's stdin. Existing keyslots
// are never removed or overwritten; this is strictly additive.
func (m *Manager) AddKeyfile(dev, keyfile string, passphrase []byte) error {
	_, err := m.runner.RunInput(passphrase, "cryptsetup", "luksAddKey", "--key-file", "-", dev, keyfile)
	if err != nil {
		return fmt.Errorf("adding keyslot to %s: %w", dev, err)
	}
	return nil
}
