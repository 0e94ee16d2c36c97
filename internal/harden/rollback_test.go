package harden

import (
	"os"
	"path/filepath"
	"testing"

	"wsk-go/internal/config"
	"wsk-go/internal/ops"
	"wsk-go/internal/testutil"
)

func TestRollback(t *testing.T) {
	t.Run("restores the most recent ruleset snapshot", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		ruleset := "-P INPUT ACCEPT\n-A INPUT -i lo -j ACCEPT\n"
		r.Respond("iptables-save", []byte(ruleset), nil)

		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})
		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}

		if got := string(r.InputFor("iptables-restore")); got != ruleset {
			t.Errorf("iptables-restore input = %q, want captured ruleset", got)
		}
	})

	t.Run("falls back to permissive defaults without a snapshot", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if r.Called("iptables-restore") {
			t.Error("iptables-restore invoked without a snapshot")
		}
		if !r.Called("iptables -P INPUT ACCEPT") {
			t.Error("permissive input policy not restored")
		}
	})

	t.Run("unmasks and re-enables the full rollback sweep", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		for _, s := range RollbackServices() {
			if !r.Called("systemctl unmask " + s) {
				t.Errorf("service %q not unmasked", s)
			}
			if !r.Called("systemctl enable --now " + s) {
				t.Errorf("service %q not re-enabled", s)
			}
		}
	})

	t.Run("re-enables configured override services as well", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		cfg := config.HardenConfig{Services: []string{"custom-agent"}}
		svc, _ := newTestService(t, r, yesConfirmer(), cfg)

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("systemctl disable --now custom-agent") {
			t.Fatal("override service not disabled by harden")
		}

		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if !r.Called("systemctl unmask custom-agent") || !r.Called("systemctl enable --now custom-agent") {
			t.Error("override service not re-enabled by rollback")
		}
		if !r.Called("systemctl unmask sshd") {
			t.Error("built-in sweep dropped when an override is configured")
		}
	})

	t.Run("removes the IPv6 drop-in", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "99-wsk-ipv6.conf")
		restore := MockIPv6DropInPath(path)
		defer restore()
		if err := os.WriteFile(path, []byte(ipv6DropInContent), 0644); err != nil {
			t.Fatal(err)
		}

		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("IPv6 drop-in still present after rollback")
		}
	})

	t.Run("missing drop-in is not an error", func(t *testing.T) {
		restore := MockIPv6DropInPath(filepath.Join(t.TempDir(), "absent.conf"))
		defer restore()

		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})
		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
	})

	t.Run("reinstalls packages and brings interfaces up when confirmed", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		cfg := config.HardenConfig{
			RemovePackages: []string{"cups", "postfix"},
			Interfaces:     []string{"eth0"},
		}
		svc, _ := newTestService(t, r, yesConfirmer(), cfg)

		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if !r.Called("zypper --non-interactive install cups postfix") {
			t.Errorf("packages not reinstalled, calls: %v", r.Calls())
		}
		if !r.Called("ip link set dev eth0 up") {
			t.Error("interface not brought up")
		}
	})

	t.Run("harden then rollback converges the firewall policy", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		pre := "*filter\n:INPUT ACCEPT [0:0]\nCOMMIT\n"
		r.Respond("iptables-save", []byte(pre), nil)

		svc, st := newTestService(t, r, yesConfirmer(), config.HardenConfig{})
		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}

		// The snapshot taken before mutation is what rollback replays.
		latest, err := st.Latest(ops.StoreKindRulesets)
		if err != nil || latest == "" {
			t.Fatalf("no snapshot captured: %v", err)
		}

		if err := svc.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if got := string(r.InputFor("iptables-restore")); got != pre {
			t.Errorf("restored ruleset = %q, want pre-hardening ruleset", got)
		}
	})
}
