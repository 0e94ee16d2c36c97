// Package harden converges the workstation toward a locked-down state:
// services disabled and masked, default-deny inbound firewall, optional IPv6
// disable, package removal, outbound restriction and interface shutdown.
// Rollback is the inverse. Neither direction is a transaction: every sweep is
// best-effort, with each action group behind its own y/N gate.
package harden

import (
	"bytes"
	"fmt"
	"os"

	"wsk-go/internal/config"
	"wsk-go/internal/ops"
)

var ipv6DropInPath = "/etc/sysctl.d/99-wsk-ipv6.conf"

const ipv6DropInContent = "net.ipv6.conf.all.disable_ipv6 = 1\nnet.ipv6.conf.default.disable_ipv6 = 1\n"

// Service orchestrates hardening and rollback.
type Service struct {
	runner    ops.Runner
	confirmer ops.Confirmer
	logger    ops.Logger
	clock     ops.Clock
	store     ops.Store
	firewall  *Firewall

	hostID string
	cfg    config.HardenConfig
	pkgMgr string
}

// NewService creates a hardening service. pkgMgr is the package manager used
// for the optional package removal/reinstall steps ("zypper" or "apt").
func NewService(runner ops.Runner, confirmer ops.Confirmer, logger ops.Logger, clock ops.Clock, st ops.Store, hostID string, cfg config.HardenConfig, pkgMgr string) *Service {
	return &Service{
		runner:    runner,
		confirmer: confirmer,
		logger:    logger,
		clock:     clock,
		store:     st,
		firewall:  NewFirewall(runner, logger),
		hostID:    hostID,
		cfg:       cfg,
		pkgMgr:    pkgMgr,
	}
}

// services returns the configured override or the built-in sweep.
func (s *Service) services() []string {
	if len(s.cfg.Services) > 0 {
		return s.cfg.Services
	}
	return HardenServices()
}

// gated runs fn only when the operator answers y to the prompt. A declined
// gate is an acknowledged skip, never an error.
func (s *Service) gated(prompt string, fn func() error) func() error {
	return func() error {
		ok, err := s.confirmer.Confirm(ops.OptionalGate(prompt))
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if !ok {
			s.logger.Info("skipped by operator", "action", prompt)
			return nil
		}
		return fn()
	}
}

// Harden runs the full hardening sequence.
func (s *Service) Harden() error {
	p := ops.NewPipeline(s.logger,
		ops.Step{Name: "snapshot ruleset", BestEffort: true, Run: s.snapshotRuleset},
		ops.Step{Name: "disable services", Run: s.gated("Disable and mask network-facing services?", s.disableServices)},
		ops.Step{Name: "deny inbound", Run: s.gated("Install default-deny inbound firewall policy?", s.denyInbound)},
	)

	if s.cfg.DisableIPv6 {
		p.Add(ops.Step{Name: "disable ipv6", Run: s.gated("Disable IPv6?", s.disableIPv6)})
	}
	if len(s.cfg.RemovePackages) > 0 {
		p.Add(ops.Step{Name: "remove packages", Run: s.gated("Remove configured packages?", s.removePackages)})
	}
	if s.cfg.OutboundUser != "" {
		p.Add(ops.Step{Name: "restrict outbound", Run: s.gated(
			fmt.Sprintf("Restrict outbound traffic to user %q on ports 80/443/53?", s.cfg.OutboundUser),
			func() error { return s.firewall.RestrictOutbound(s.cfg.OutboundUser) })})
	}
	if len(s.cfg.Interfaces) > 0 {
		p.Add(ops.Step{Name: "interfaces down", Run: s.gated("Take configured network interfaces down?", s.interfacesDown)})
	}

	return p.Run()
}

// snapshotRuleset captures the pre-hardening iptables ruleset into the store,
// named by host and generation timestamp, so rollback can restore it.
func (s *Service) snapshotRuleset() error {
	data, err := s.firewall.SaveRuleset()
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%s", s.hostID, s.clock.Now().UTC().Format("20060102T150405Z"))
	if err := s.store.Put(ops.StoreKindRulesets, name, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("storing ruleset snapshot: %w", err)
	}
	s.logger.Info("ruleset snapshot stored", "name", name, "bytes", len(data))
	return nil
}

// disableServices disables and masks every service in the sweep. A missing
// unit or an already-disabled service is success, not error.
func (s *Service) disableServices() error {
	for _, svc := range s.services() {
		if _, err := s.runner.Run("systemctl", "disable", "--now", svc); err != nil {
			s.logger.Warn("disable failed, continuing", "service", svc, "error", err)
		}
		if _, err := s.runner.Run("systemctl", "mask", svc); err != nil {
			s.logger.Warn("mask failed, continuing", "service", svc, "error", err)
		}
	}
	return nil
}

func (s *Service) denyInbound() error {
	manager := s.firewall.Detect()
	s.logger.Info("applying default-deny inbound", "manager", manager)
	return s.firewall.DenyInbound(manager)
}

func (s *Service) disableIPv6() error {
	if err := os.WriteFile(ipv6DropInPath, []byte(ipv6DropInContent), 0644); err != nil {
		return fmt.Errorf("writing sysctl drop-in: %w", err)
	}
	if _, err := s.runner.Run("sysctl", "--system"); err != nil {
		s.logger.Warn("sysctl reload failed, drop-in applies on next boot", "error", err)
	}
	return nil
}

func (s *Service) removePackages() error {
	args := append(removeArgs(s.pkgMgr), s.cfg.RemovePackages...)
	if _, err := s.runner.Run(s.pkgMgr, args...); err != nil {
		return fmt.Errorf("removing packages: %w", err)
	}
	return nil
}

func (s *Service) interfacesDown() error {
	for _, iface := range s.cfg.Interfaces {
		if _, err := s.runner.Run("ip", "link", "set", "dev", iface, "down"); err != nil {
			s.logger.Warn("interface down failed, continuing", "interface", iface, "error", err)
		}
	}
	return nil
}

func removeArgs(pkgMgr string) []string {
	if pkgMgr == "apt" {
		return []string{"remove", "-y"}
	}
	return []string{"--non-interactive", "remove"}
}

func installArgs(pkgMgr string) []string {
	if pkgMgr == "apt" {
		return []string{"install", "-y"}
	}
	return []string{"--non-interactive", "install"}
}
