package luks

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// KeyfileSize is the fixed size of generated unlock keyfiles.
const KeyfileSize = 4096

// EnsureKeyfile creates a keyfile of KeyfileSize random bytes at path,
// owner-read-only, unless one already exists. An existing keyfile is reused
// verbatim; re-running provisioning never regenerates it.
// Returns true if a new keyfile was created.
func EnsureKeyfile(path string) (bool, error) {
	if info, err := os.Stat(path); err == nil {
		if info.Size() != KeyfileSize {
			return false, fmt.Errorf("existing keyfile %s has size %d, want %d", path, info.Size(), KeyfileSize)
		}
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking keyfile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("creating keyfile directory: %w", err)
	}

	key := make([]byte, KeyfileSize)
	if _, err := rand.Read(key); err != nil {
		return false, fmt.Errorf("generating key material: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0400)
	if err != nil {
		return false, fmt.Errorf("creating keyfile: %w", err)
	}

	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(path)
		return false, fmt.Errorf("writing keyfile: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("closing keyfile: %w", err)
	}

	return true, nil
}
