package ops

// MockGeteuid replaces the euid lookup used by RequireRoot and returns a
// restore function.
func MockGeteuid(fn func() int) (restore func()) {
	orig := geteuid
	geteuid = fn
	return func() {
		geteuid = orig
	}
}
