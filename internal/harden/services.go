package harden

// hardenServices is the sweep of network-facing services disabled and masked
// by hardening: remote login, file sharing, printing, mail and discovery.
var hardenServices = []string{
	"sshd",
	"smb",
	"nmb",
	"nfs-server",
	"rpcbind",
	"cups",
	"cups-browsed",
	"postfix",
	"avahi-daemon",
}

// rollbackServices is everything rollback unmasks and re-enables. It must be
// a superset of hardenServices or convergence is not restorable; the extra
// entries cover alternate unit names used by other distributions.
var rollbackServices = []string{
	"sshd",
	"ssh",
	"smb",
	"smbd",
	"nmb",
	"nmbd",
	"nfs-server",
	"rpcbind",
	"cups",
	"cups-browsed",
	"postfix",
	"exim4",
	"avahi-daemon",
}

// HardenServices returns the service names the hardening sweep disables.
func HardenServices() []string {
	return append([]string(nil), hardenServices...)
}

// RollbackServices returns the service names rollback re-enables.
func RollbackServices() []string {
	return append([]string(nil), rollbackServices...)
}
