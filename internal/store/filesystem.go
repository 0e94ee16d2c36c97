package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"wsk-go/internal/ops"
)

// FileSystemStore keeps artifacts as files in a directory structure:
//
//	<root>/
//	  rulesets/
//	    <hostID>-<timestamp>   (iptables-save snapshots)
//	  escrow/
//	    <hostID>-<timestamp>   (age-encrypted keyfile copies)
type FileSystemStore struct {
	root string
}

var _ ops.Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// Put stores the artifact using an atomic write (temp file + rename).
func (s *FileSystemStore) Put(kind, name string, r io.Reader, size int64) error {
	dir := filepath.Join(s.root, kind)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Get writes the artifact kind/name to w.
func (s *FileSystemStore) Get(kind, name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.root, kind, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("artifact not found: %s/%s", kind, name)
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	return nil
}

// List returns all names under kind, sorted ascending.
func (s *FileSystemStore) List(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the newest name under kind, or "" when empty.
func (s *FileSystemStore) Latest(kind string) (string, error) {
	names, err := s.List(kind)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[len(names)-1], nil
}
