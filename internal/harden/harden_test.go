package harden

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wsk-go/internal/config"
	"wsk-go/internal/ops"
	"wsk-go/internal/store"
	"wsk-go/internal/testutil"
)

func newTestService(t *testing.T, r *testutil.FakeRunner, c *testutil.StubConfirmer, cfg config.HardenConfig) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(r, c, ops.NewNopLogger(), testutil.FixedClock(), st, "host1", cfg, "zypper")
	return svc, st
}

// yesConfirmer answers y to every optional gate.
func yesConfirmer() *testutil.StubConfirmer {
	return &testutil.StubConfirmer{Default: "y"}
}

func TestRollbackServicesSupersetOfHardenServices(t *testing.T) {
	rollback := make(map[string]bool)
	for _, s := range RollbackServices() {
		rollback[s] = true
	}
	for _, s := range HardenServices() {
		if !rollback[s] {
			t.Errorf("service %q is disabled by harden but not re-enabled by rollback", s)
		}
	}

	// The invariant must hold with a configured override too.
	svc, _ := newTestService(t, testutil.NewFakeRunner(), yesConfirmer(),
		config.HardenConfig{Services: []string{"custom-agent", "sshd"}})
	covered := make(map[string]bool)
	for _, s := range svc.rollbackServices() {
		covered[s] = true
	}
	for _, s := range svc.services() {
		if !covered[s] {
			t.Errorf("override service %q is disabled by harden but not re-enabled by rollback", s)
		}
	}
}

func TestHarden(t *testing.T) {
	t.Run("disables and masks every service in the sweep", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}

		for _, s := range HardenServices() {
			if !r.Called("systemctl disable --now " + s) {
				t.Errorf("service %q not disabled", s)
			}
			if !r.Called("systemctl mask " + s) {
				t.Errorf("service %q not masked", s)
			}
		}
	})

	t.Run("stores a timestamped ruleset snapshot before mutating", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		r.Respond("iptables-save", []byte("-P INPUT ACCEPT\n"), nil)
		svc, st := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}

		latest, err := st.Latest(ops.StoreKindRulesets)
		if err != nil {
			t.Fatal(err)
		}
		if latest != "host1-20240115T103000Z" {
			t.Errorf("snapshot name = %q, want host1-20240115T103000Z", latest)
		}
	})

	t.Run("a failed snapshot does not halt the sweep", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		r.Fail("iptables-save", "command not found")
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("systemctl disable") {
			t.Error("service sweep did not run after snapshot failure")
		}
	})

	t.Run("service failures inside the sweep are swallowed", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		r.Fail("systemctl disable --now sshd", "Unit sshd.service not found")
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("systemctl disable --now smb") {
			t.Error("sweep stopped after a missing unit")
		}
	})

	t.Run("declined gates skip their actions without error", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		c := &testutil.StubConfirmer{Default: "n"}
		svc, _ := newTestService(t, r, c, config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if r.Called("systemctl") {
			t.Error("services were touched despite declined gate")
		}
		if r.Called("iptables -P INPUT DROP") || r.Called("firewall-cmd") {
			t.Error("firewall was touched despite declined gate")
		}
	})

	t.Run("prefers firewalld when present", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("firewall-cmd --set-default-zone=drop") {
			t.Error("firewalld not used")
		}
	})

	t.Run("falls back to raw iptables rules", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		r.MarkMissing("firewall-cmd")
		r.MarkMissing("ufw")
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("iptables -P INPUT DROP") {
			t.Error("iptables default-deny not applied")
		}
	})

	t.Run("writes the IPv6 sysctl drop-in when configured", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "99-wsk-ipv6.conf")
		restore := MockIPv6DropInPath(path)
		defer restore()

		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{DisableIPv6: true})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("drop-in not written: %v", err)
		}
		if !strings.Contains(string(data), "disable_ipv6 = 1") {
			t.Errorf("drop-in content = %q", string(data))
		}
	})

	t.Run("restricts outbound traffic to the configured user", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{OutboundUser: "operator"})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("--uid-owner operator -p tcp --dport 443") {
			t.Error("outbound 443 rule missing")
		}
		if !r.Called("--uid-owner operator -p udp --dport 53") {
			t.Error("outbound DNS rule missing")
		}
		if !r.Called("iptables -P OUTPUT DROP") {
			t.Error("outbound default drop missing")
		}
	})

	t.Run("takes configured interfaces down", func(t *testing.T) {
		r := testutil.NewFakeRunner()
		svc, _ := newTestService(t, r, yesConfirmer(), config.HardenConfig{Interfaces: []string{"eth0", "wlan0"}})

		if err := svc.Harden(); err != nil {
			t.Fatalf("Harden() error = %v", err)
		}
		if !r.Called("ip link set dev eth0 down") || !r.Called("ip link set dev wlan0 down") {
			t.Errorf("interfaces not taken down, calls: %v", r.Calls())
		}
	})
}
