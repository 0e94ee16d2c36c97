package ops

import "io"

// Store kinds used by wsk.
const (
	StoreKindRulesets = "rulesets" // iptables-save snapshots taken before hardening
	StoreKindEscrow   = "escrow"   // age-encrypted keyfile recovery copies
)

// Store persists small named artifacts (firewall ruleset snapshots, keyfile
// escrow copies) under a kind namespace. Names embed the host ID and a
// generation timestamp, so the lexically greatest name is the newest.
type Store interface {
	// Put stores size bytes from r under kind/name.
	Put(kind, name string, r io.Reader, size int64) error
	// Get writes the artifact kind/name to w.
	Get(kind, name string, w io.Writer) error
	// List returns all names under kind, sorted ascending.
	List(kind string) ([]string, error)
	// Latest returns the newest name under kind, or "" when empty.
	Latest(kind string) (string, error)
}
