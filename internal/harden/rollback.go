package harden

import (
	"bytes"
	"fmt"
	"os"

	"wsk-go/internal/ops"
)

// Rollback restores the pre-hardening state: the most recent captured
// ruleset (or permissive defaults when none was captured), the full service
// sweep unmasked and re-enabled, IPv6 restored, and optionally packages
// reinstalled and interfaces brought back up.
func (s *Service) Rollback() error {
	p := ops.NewPipeline(s.logger,
		ops.Step{Name: "restore ruleset", Run: s.restoreRuleset},
		ops.Step{Name: "enable services", Run: s.gated("Unmask and re-enable network-facing services?", s.enableServices)},
		ops.Step{Name: "restore ipv6", BestEffort: true, Run: s.restoreIPv6},
	)

	if len(s.cfg.RemovePackages) > 0 {
		p.Add(ops.Step{Name: "reinstall packages", Run: s.gated("Reinstall previously removed packages?", s.reinstallPackages)})
	}
	if len(s.cfg.Interfaces) > 0 {
		p.Add(ops.Step{Name: "interfaces up", Run: s.gated("Bring configured network interfaces up?", s.interfacesUp)})
	}

	return p.Run()
}

// restoreRuleset loads the newest ruleset snapshot and replays it. When no
// snapshot was ever captured, the default policies return to ACCEPT instead.
func (s *Service) restoreRuleset() error {
	latest, err := s.store.Latest(ops.StoreKindRulesets)
	if err != nil {
		return fmt.Errorf("finding latest ruleset snapshot: %w", err)
	}

	if latest == "" {
		s.logger.Info("no ruleset snapshot, restoring permissive defaults")
		return s.firewall.RestorePermissive()
	}

	var buf bytes.Buffer
	if err := s.store.Get(ops.StoreKindRulesets, latest, &buf); err != nil {
		return fmt.Errorf("loading ruleset snapshot %s: %w", latest, err)
	}

	s.logger.Info("restoring ruleset snapshot", "name", latest)
	return s.firewall.RestoreRuleset(buf.Bytes())
}

// rollbackServices is the built-in rollback sweep plus any configured
// override, so every unit hardening could have disabled is covered.
func (s *Service) rollbackServices() []string {
	svcs := RollbackServices()
	seen := make(map[string]bool, len(svcs))
	for _, svc := range svcs {
		seen[svc] = true
	}
	for _, svc := range s.cfg.Services {
		if !seen[svc] {
			svcs = append(svcs, svc)
		}
	}
	return svcs
}

// enableServices unmasks and re-enables the rollback sweep. Missing units are
// skipped.
func (s *Service) enableServices() error {
	for _, svc := range s.rollbackServices() {
		if _, err := s.runner.Run("systemctl", "unmask", svc); err != nil {
			s.logger.Warn("unmask failed, continuing", "service", svc, "error", err)
		}
		if _, err := s.runner.Run("systemctl", "enable", "--now", svc); err != nil {
			s.logger.Warn("enable failed, continuing", "service", svc, "error", err)
		}
	}
	return nil
}

func (s *Service) restoreIPv6() error {
	if err := os.Remove(ipv6DropInPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing sysctl drop-in: %w", err)
	}
	if _, err := s.runner.Run("sysctl", "--system"); err != nil {
		s.logger.Warn("sysctl reload failed, change applies on next boot", "error", err)
	}
	return nil
}

func (s *Service) reinstallPackages() error {
	args := append(installArgs(s.pkgMgr), s.cfg.RemovePackages...)
	if _, err := s.runner.Run(s.pkgMgr, args...); err != nil {
		return fmt.Errorf("reinstalling packages: %w", err)
	}
	return nil
}

func (s *Service) interfacesUp() error {
	for _, iface := range s.cfg.Interfaces {
		if _, err := s.runner.Run("ip", "link", "set", "dev", iface, "up"); err != nil {
			s.logger.Warn("interface up failed, continuing", "interface", iface, "error", err)
		}
	}
	return nil
}
