// Package grub emits the boot-stage script fragment that searches for the
// labeled USB device and attempts to unlock the LUKS volume with the keyfile.
//
// The fragment runs inside bootloader firmware, long before any OS runtime
// exists: it is plain GRUB shell dialect with the volume UUID, the USB
// filesystem label and the keyfile name interpolated textually at generation
// time. A failed match or unlock falls back to the normal passphrase prompt,
// so a broken USB key never denies boot.
package grub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SnippetName is the file name used inside the bootloader's
// config-fragment directory.
const SnippetName = "07_wsk_usbkey.cfg"

// Snippet describes one generated unlock fragment.
type Snippet struct {
	// VolumeUUID is the LUKS volume UUID as reported by blkid.
	VolumeUUID string
	// Label is the filesystem label of the USB key medium.
	Label string
	// KeyfileName is the name of the keyfile at the USB filesystem root.
	KeyfileName string

	// EnumWaitSeconds is how long to wait for USB enumeration before
	// searching for the labeled device.
	EnumWaitSeconds int
	// MenuTimeoutSeconds is the boot menu timeout set by the fragment.
	MenuTimeoutSeconds int
	// Verbose enables unconditional trace output at boot.
	Verbose bool
}

// Render produces the fragment text.
func (s *Snippet) Render() string {
	// cryptomount addresses volumes by UUID without separators.
	bareUUID := strings.ReplaceAll(s.VolumeUUID, "-", "")

	var b strings.Builder
	b.WriteString("# Generated by wsk usbkey setup. Do not edit.\n")
	if s.Verbose {
		b.WriteString("set debug=linux,crypt,disk\n")
	}
	fmt.Fprintf(&b, "set timeout=%d\n", s.MenuTimeoutSeconds)
	b.WriteString("\n")
	fmt.Fprintf(&b, "echo \"Waiting %ds for USB enumeration...\"\n", s.EnumWaitSeconds)
	fmt.Fprintf(&b, "sleep %d\n", s.EnumWaitSeconds)
	b.WriteString("\n")
	fmt.Fprintf(&b, "search --no-floppy --label %s --set=wsk_usb\n", s.Label)
	b.WriteString("if [ -n \"$wsk_usb\" ]; then\n")
	fmt.Fprintf(&b, "    echo \"USB key %s found on ($wsk_usb)\"\n", s.Label)
	fmt.Fprintf(&b, "    if cryptomount -u %s -k ($wsk_usb)/%s; then\n", bareUUID, s.KeyfileName)
	b.WriteString("        echo \"Volume unlocked with keyfile\"\n")
	b.WriteString("    else\n")
	b.WriteString("        echo \"Keyfile unlock failed, falling back to passphrase\"\n")
	fmt.Fprintf(&b, "        cryptomount -u %s\n", bareUUID)
	b.WriteString("    fi\n")
	b.WriteString("else\n")
	fmt.Fprintf(&b, "    echo \"USB key %s not found, falling back to passphrase\"\n", s.Label)
	fmt.Fprintf(&b, "    cryptomount -u %s\n", bareUUID)
	b.WriteString("fi\n")
	return b.String()
}

// Write renders the fragment into the given config-fragment directory.
// Returns the path of the written file.
func (s *Snippet) Write(dir string) (string, error) {
	if s.VolumeUUID == "" || s.Label == "" || s.KeyfileName == "" {
		return "", fmt.Errorf("snippet requires volume UUID, label and keyfile name")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snippet directory: %w", err)
	}

	path := filepath.Join(dir, SnippetName)
	if err := os.WriteFile(path, []byte(s.Render()), 0644); err != nil {
		return "", fmt.Errorf("writing snippet: %w", err)
	}
	return path, nil
}
