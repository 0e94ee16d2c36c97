// Package deps checks that the external tools the workstation workflows rely
// on are installed, and can install the packages providing them.
package deps

import (
	"fmt"
	"sort"

	"wsk-go/internal/ops"
)

// requiredCommands is the fixed list of tools the provisioning, flashing and
// hardening workflows depend on.
var requiredCommands = []string{
	"blkid",
	"blockdev",
	"cryptsetup",
	"grub2-mkconfig",
	"ip",
	"iptables",
	"iptables-restore",
	"iptables-save",
	"mkfs.vfat",
	"parted",
	"sysctl",
	"wipefs",
}

// defaultSkip lists commands assumed present on any usable system; they are
// never checked, regardless of availability.
var defaultSkip = []string{
	"cat", "cp", "dd", "grep", "ls", "mount", "mv", "rm", "sync", "umount",
}

// packageMaps maps command name to the package providing it, per manager.
// A command absent from its manager's map is reported as missing with no
// install action.
var packageMaps = map[string]map[string]string{
	"zypper": {
		"blkid":            "util-linux",
		"blockdev":         "util-linux",
		"cryptsetup":       "cryptsetup",
		"grub2-mkconfig":   "grub2",
		"ip":               "iproute2",
		"iptables":         "iptables",
		"iptables-restore": "iptables",
		"iptables-save":    "iptables",
		"mkfs.vfat":        "dosfstools",
		"parted":           "parted",
		"sysctl":           "procps",
		"wipefs":           "util-linux",
	},
	"apt": {
		"blkid":            "util-linux",
		"blockdev":         "util-linux",
		"cryptsetup":       "cryptsetup-bin",
		"ip":               "iproute2",
		"iptables":         "iptables",
		"iptables-restore": "iptables",
		"iptables-save":    "iptables",
		"mkfs.vfat":        "dosfstools",
		"parted":           "parted",
		"sysctl":           "procps",
		"wipefs":           "util-linux",
		// grub2-mkconfig deliberately unmapped: Debian ships it as
		// grub-mkconfig, so the zypper name has no package here.
	},
}

// Report is one missing command. Package is empty when no mapping exists for
// the selected manager.
type Report struct {
	Command string
	Package string
}

// Checker reports and installs missing dependencies.
type Checker struct {
	runner  ops.Runner
	logger  ops.Logger
	manager string
	skip    map[string]bool
}

// NewChecker creates a checker for the given package manager ("zypper" or
// "apt"). skipOverride replaces the default skip-list when non-empty.
func NewChecker(runner ops.Runner, logger ops.Logger, manager string, skipOverride []string) (*Checker, error) {
	if _, ok := packageMaps[manager]; !ok {
		return nil, fmt.Errorf("unsupported package manager %q", manager)
	}

	skipList := defaultSkip
	if len(skipOverride) > 0 {
		skipList = skipOverride
	}
	skip := make(map[string]bool, len(skipList))
	for _, c := range skipList {
		skip[c] = true
	}

	return &Checker{runner: runner, logger: logger, manager: manager, skip: skip}, nil
}

// Missing returns a report for every required command that is not on PATH.
// Skip-listed commands are never checked. No install action is taken.
func (c *Checker) Missing() ([]Report, error) {
	pkgs := packageMaps[c.manager]

	var missing []Report
	for _, cmd := range requiredCommands {
		if c.skip[cmd] {
			continue
		}
		if _, err := c.runner.LookPath(cmd); err == nil {
			continue
		}
		missing = append(missing, Report{Command: cmd, Package: pkgs[cmd]})
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i].Command < missing[j].Command })
	return missing, nil
}

// Install installs the packages for the given reports. Reports without a
// package mapping are logged and skipped; they are never an error.
func (c *Checker) Install(missing []Report) error {
	seen := make(map[string]bool)
	var pkgs []string
	for _, m := range missing {
		if m.Package == "" {
			c.logger.Warn("no package mapping, skipping", "command", m.Command, "manager", c.manager)
			continue
		}
		if !seen[m.Package] {
			seen[m.Package] = true
			pkgs = append(pkgs, m.Package)
		}
	}
	if len(pkgs) == 0 {
		return nil
	}

	args := installArgs(c.manager)
	if _, err := c.runner.Run(c.manager, append(args, pkgs...)...); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}
	c.logger.Info("packages installed", "packages", pkgs)
	return nil
}

func installArgs(manager string) []string {
	if manager == "apt" {
		return []string{"install", "-y"}
	}
	return []string{"--non-interactive", "install"}
}
