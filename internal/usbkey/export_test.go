package usbkey

// MockRequireRoot replaces the root check and returns a restore function.
func MockRequireRoot(f func(operation string) error) (restore func()) {
	orig := requireRoot
	requireRoot = f
	return func() {
		requireRoot = orig
	}
}
