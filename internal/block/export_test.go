package block

import "golang.org/x/sys/unix"

// MockUnixStat replaces the stat syscall used by CheckBlockDevice and
// returns a restore function.
func MockUnixStat(fn func(path string, st *unix.Stat_t) error) (restore func()) {
	orig := unixStat
	unixStat = fn
	return func() {
		unixStat = orig
	}
}

// MockMountsPath points the mount-table parser at an alternate file and
// returns a restore function.
func MockMountsPath(path string) (restore func()) {
	orig := mountsPath
	mountsPath = path
	return func() {
		mountsPath = orig
	}
}
