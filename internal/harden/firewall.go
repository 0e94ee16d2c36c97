package harden

import (
	"fmt"

	"wsk-go/internal/ops"
)

// Firewall applies and reverts packet-filter policy, preferring a detected
// firewall manager and falling back to raw iptables rules.
type Firewall struct {
	runner ops.Runner
	logger ops.Logger
}

// NewFirewall creates a firewall layer over the given runner.
func NewFirewall(runner ops.Runner, logger ops.Logger) *Firewall {
	return &Firewall{runner: runner, logger: logger}
}

// Detect returns the preferred firewall manager present on the host:
// "firewalld", "ufw" or "iptables".
func (f *Firewall) Detect() string {
	if _, err := f.runner.LookPath("firewall-cmd"); err == nil {
		return "firewalld"
	}
	if _, err := f.runner.LookPath("ufw"); err == nil {
		return "ufw"
	}
	return "iptables"
}

// SaveRuleset captures the current iptables ruleset for later restore.
func (f *Firewall) SaveRuleset() ([]byte, error) {
	out, err := f.runner.Run("iptables-save")
	if err != nil {
		return nil, fmt.Errorf("capturing ruleset: %w", err)
	}
	return out, nil
}

// RestoreRuleset feeds a previously captured ruleset to iptables-restore.
func (f *Firewall) RestoreRuleset(data []byte) error {
	if _, err := f.runner.RunInput(data, "iptables-restore"); err != nil {
		return fmt.Errorf("restoring ruleset: %w", err)
	}
	return nil
}

// DenyInbound installs a default-deny inbound policy using the given manager.
// Loopback and established traffic stay allowed so the workstation remains
// usable.
func (f *Firewall) DenyInbound(manager string) error {
	switch manager {
	case "firewalld":
		if _, err := f.runner.Run("firewall-cmd", "--set-default-zone=drop"); err != nil {
			return fmt.Errorf("setting firewalld drop zone: %w", err)
		}
		if _, err := f.runner.Run("firewall-cmd", "--runtime-to-permanent"); err != nil {
			return fmt.Errorf("persisting firewalld zone: %w", err)
		}
		return nil
	case "ufw":
		if _, err := f.runner.Run("ufw", "default", "deny", "incoming"); err != nil {
			return fmt.Errorf("setting ufw inbound policy: %w", err)
		}
		if _, err := f.runner.Run("ufw", "--force", "enable"); err != nil {
			return fmt.Errorf("enabling ufw: %w", err)
		}
		return nil
	case "iptables":
		rules := [][]string{
			{"-A", "INPUT", "-i", "lo", "-j", "ACCEPT"},
			{"-A", "INPUT", "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
			{"-P", "INPUT", "DROP"},
			{"-P", "FORWARD", "DROP"},
		}
		for _, r := range rules {
			if _, err := f.runner.Run("iptables", r...); err != nil {
				return fmt.Errorf("applying iptables rule %v: %w", r, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown firewall manager %q", manager)
	}
}

// RestorePermissive returns the default policies to ACCEPT and flushes the
// chains hardening may have populated. Used by rollback when no captured
// ruleset exists.
func (f *Firewall) RestorePermissive() error {
	rules := [][]string{
		{"-P", "INPUT", "ACCEPT"},
		{"-P", "FORWARD", "ACCEPT"},
		{"-P", "OUTPUT", "ACCEPT"},
		{"-F", "INPUT"},
		{"-F", "OUTPUT"},
	}
	for _, r := range rules {
		if _, err := f.runner.Run("iptables", r...); err != nil {
			return fmt.Errorf("applying iptables rule %v: %w", r, err)
		}
	}
	return nil
}

// RestrictOutbound limits outbound traffic to processes of the given user on
// ports 80, 443 and 53.
func (f *Firewall) RestrictOutbound(user string) error {
	rules := [][]string{
		{"-A", "OUTPUT", "-o", "lo", "-j", "ACCEPT"},
		{"-A", "OUTPUT", "-m", "owner", "--uid-owner", user, "-p", "tcp", "--dport", "80", "-j", "ACCEPT"},
		{"-A", "OUTPUT", "-m", "owner", "--uid-owner", user, "-p", "tcp", "--dport", "443", "-j", "ACCEPT"},
		{"-A", "OUTPUT", "-m", "owner", "--uid-owner", user, "-p", "tcp", "--dport", "53", "-j", "ACCEPT"},
		{"-A", "OUTPUT", "-m", "owner", "--uid-owner", user, "-p", "udp", "--dport", "53", "-j", "ACCEPT"},
		{"-P", "OUTPUT", "DROP"},
	}
	for _, r := range rules {
		if _, err := f.runner.Run("iptables", r...); err != nil {
			return fmt.Errorf("applying outbound rule %v: %w", r, err)
		}
	}
	return nil
}
