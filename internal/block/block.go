// Package block inspects and mutates block devices: existence and type
// checks, mount state, UUID discovery, formatting and (un)mounting.
package block

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"wsk-go/internal/ops"
)

var (
	unixStat   = unix.Stat
	mountsPath = "/proc/self/mounts"
)

// Manager performs block-device operations through the injected runner.
type Manager struct {
	runner ops.Runner
}

// NewManager creates a block-device manager.
func NewManager(runner ops.Runner) *Manager {
	return &Manager{runner: runner}
}

// CheckBlockDevice verifies that path exists and is a block device.
// Both failures are preconditions: no mutation may follow them.
func (m *Manager) CheckBlockDevice(path string) error {
	var st unix.Stat_t
	if err := unixStat(path, &st); err != nil {
		return fmt.Errorf("no such device %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return fmt.Errorf("%s is not a block device", path)
	}
	return nil
}

// MountPoint returns the mount point of dev or any of its partitions, or ""
// when nothing is mounted. The kernel's mount table is the source of truth.
func (m *Manager) MountPoint(dev string) (string, error) {
	data, err := os.ReadFile(mountsPath)
	if err != nil {
		return "", fmt.Errorf("reading mount table: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == dev || partitionOf(fields[0], dev) {
			return fields[1], nil
		}
	}
	return "", nil
}

// partitionOf reports whether name is a partition of dev: the device path
// followed by a partition number, with nvme-style "p" allowed before the
// number. A longer device sharing the prefix (/dev/sdab vs /dev/sda) is not
// a partition.
func partitionOf(name, dev string) bool {
	rest, ok := strings.CutPrefix(name, dev)
	if !ok || rest == "" {
		return false
	}
	if rest[0] == 'p' {
		rest = rest[1:]
	}
	if rest == "" {
		return false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// UUID returns the filesystem/LUKS UUID of dev as reported by blkid.
func (m *Manager) UUID(dev string) (string, error) {
	out, err := m.runner.Run("blkid", "-s", "UUID", "-o", "value", dev)
	if err != nil {
		return "", fmt.Errorf("reading UUID of %s: %w", dev, err)
	}

	s := strings.TrimSpace(string(out))
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("blkid returned invalid UUID %q for %s: %w", s, dev, err)
	}
	return s, nil
}

// SizeBytes returns the size of the device in bytes.
func (m *Manager) SizeBytes(dev string) (int64, error) {
	out, err := m.runner.Run("blockdev", "--getsize64", dev)
	if err != nil {
		return 0, fmt.Errorf("reading size of %s: %w", dev, err)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size of %s: %w", dev, err)
	}
	return n, nil
}

// FormatVFAT formats dev with a FAT filesystem carrying the given label.
// Irreversible; callers gate this behind the destructive confirmation.
func (m *Manager) FormatVFAT(dev, label string) error {
	if _, err := m.runner.Run("mkfs.vfat", "-I", "-n", label, dev); err != nil {
		return fmt.Errorf("formatting %s: %w", dev, err)
	}
	return nil
}

// Mount mounts dev at dir, creating dir if needed.
func (m *Manager) Mount(dev, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating mount point %s: %w", dir, err)
	}
	if _, err := m.runner.Run("mount", dev, dir); err != nil {
		return fmt.Errorf("mounting %s at %s: %w", dev, dir, err)
	}
	return nil
}

// Unmount unmounts the filesystem mounted at target.
func (m *Manager) Unmount(target string) error {
	if _, err := m.runner.Run("umount", target); err != nil {
		return fmt.Errorf("unmounting %s: %w", target, err)
	}
	return nil
}
