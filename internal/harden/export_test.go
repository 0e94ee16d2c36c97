package harden

// MockIPv6DropInPath redirects the sysctl drop-in file and returns a restore
// function.
func MockIPv6DropInPath(path string) (restore func()) {
	orig := ipv6DropInPath
	ipv6DropInPath = path
	return func() {
		ipv6DropInPath = orig
	}
}
