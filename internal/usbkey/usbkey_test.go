package usbkey_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wsk-go/internal/config"
	"wsk-go/internal/grub"
	"wsk-go/internal/luks"
	"wsk-go/internal/ops"
	"wsk-go/internal/store"
	"wsk-go/internal/testutil"
	"wsk-go/internal/usbkey"
)

// luksUUID is what blkid reports for the encrypted volume; the stick's VFAT
// serial ("1B2C-3D4E") must never end up in the snippet.
const luksUUID = "f1a6bb35-0aed-4ac2-a413-a73aa42dcd1a"

type fakeBlocks struct {
	mountPoint string
	uuids      map[string]string
	notBlock   map[string]bool

	uuidCalls    []string
	formatted    bool
	formatLabel  string
	mounted      bool
	unmounted    bool
	mountedAt    string
	formatDevice string
}

func (f *fakeBlocks) CheckBlockDevice(device string) error {
	if f.notBlock[device] {
		return fmt.Errorf("%s is not a block device", device)
	}
	return nil
}

func (f *fakeBlocks) MountPoint(string) (string, error) { return f.mountPoint, nil }

func (f *fakeBlocks) UUID(device string) (string, error) {
	f.uuidCalls = append(f.uuidCalls, device)
	u, ok := f.uuids[device]
	if !ok {
		return "", fmt.Errorf("no UUID for %s", device)
	}
	return u, nil
}

func (f *fakeBlocks) FormatVFAT(device, label string) error {
	f.formatted = true
	f.formatDevice = device
	f.formatLabel = label
	return nil
}

func (f *fakeBlocks) Mount(device, dir string) error {
	f.mounted = true
	f.mountedAt = dir
	return nil
}

func (f *fakeBlocks) Unmount(string) error {
	f.unmounted = true
	return nil
}

type fakeLUKS struct {
	isLUKS        bool
	unlocks       bool
	unavailable   bool
	addKeyfileErr error

	addedKeyfile   string
	addedPassword  []byte
	addKeyfileRuns int
}

func (f *fakeLUKS) CheckAvailable() error {
	if f.unavailable {
		return errors.New("cryptsetup not found")
	}
	return nil
}

func (f *fakeLUKS) IsLUKS(string) (bool, error) { return f.isLUKS, nil }

func (f *fakeLUKS) KeyfileUnlocks(string, string) (bool, error) { return f.unlocks, nil }

func (f *fakeLUKS) AddKeyfile(device, keyfile string, passphrase []byte) error {
	f.addKeyfileRuns++
	f.addedKeyfile = keyfile
	f.addedPassword = append([]byte(nil), passphrase...)
	return f.addKeyfileErr
}

type fakeEscrow struct {
	configured bool
	fail       bool
}

func (f *fakeEscrow) IsConfigured() bool { return f.configured }

func (f *fakeEscrow) Encrypt(r io.Reader, w io.Writer) error {
	if f.fail {
		return errors.New("no recipient")
	}
	if _, err := w.Write([]byte("age:")); err != nil {
		return err
	}
	_, err := io.Copy(w, r)
	return err
}

type fixture struct {
	blocks    *fakeBlocks
	luks      *fakeLUKS
	confirmer *testutil.StubConfirmer
	store     *store.MemoryStore
	escrow    *fakeEscrow
	cfg       config.USBKeyConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	restore := usbkey.MockRequireRoot(func(string) error { return nil })
	t.Cleanup(restore)

	base := t.TempDir()
	return &fixture{
		blocks: &fakeBlocks{uuids: map[string]string{
			"/dev/sda2": luksUUID,
			"/dev/sdb1": "1B2C-3D4E",
		}},
		luks:      &fakeLUKS{isLUKS: true},
		confirmer: testutil.NewStubConfirmer("YES"),
		store:     store.NewMemoryStore(),
		escrow:    &fakeEscrow{},
		cfg: config.USBKeyConfig{
			LUKSDevice:         "/dev/sda2",
			USBDevice:          "/dev/sdb1",
			FSLabel:            "WSKKEY",
			KeyfileName:        "wsk.key",
			KeyfileDir:         filepath.Join(base, "keys"),
			SnippetDir:         filepath.Join(base, "grub.d"),
			MountPoint:         filepath.Join(base, "mnt"),
			EnumWaitSeconds:    10,
			MenuTimeoutSeconds: 30,
		},
	}
}

func (f *fixture) provisioner(prompter ops.Prompter) *usbkey.Provisioner {
	return usbkey.NewProvisioner(f.blocks, f.luks, f.confirmer, prompter, ops.NewNopLogger(), f.store, f.escrow, f.cfg)
}

func (f *fixture) keyfilePath() string {
	return filepath.Join(f.cfg.KeyfileDir, f.cfg.KeyfileName)
}

func TestSetup(t *testing.T) {
	t.Run("provisions a fresh key end to end", func(t *testing.T) {
		f := newFixture(t)
		if err := os.MkdirAll(f.cfg.MountPoint, 0755); err != nil {
			t.Fatal(err)
		}
		prompter := &testutil.StubPrompter{Secret: []byte("hunter2")}

		res, err := f.provisioner(prompter).Setup()
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}

		if !res.KeyfileCreated {
			t.Error("KeyfileCreated = false, want true")
		}
		info, err := os.Stat(f.keyfilePath())
		if err != nil {
			t.Fatalf("keyfile not written: %v", err)
		}
		if info.Size() != luks.KeyfileSize {
			t.Errorf("keyfile size = %d, want %d", info.Size(), luks.KeyfileSize)
		}

		if !res.KeyEnrolled {
			t.Error("KeyEnrolled = false, want true")
		}
		if string(f.luks.addedPassword) != "hunter2" {
			t.Errorf("passphrase = %q, want prompted secret", f.luks.addedPassword)
		}
		// ReadSecret appends its own separator, so the prompt carries none.
		if len(prompter.Prompts) != 1 || strings.HasSuffix(prompter.Prompts[0], ": ") {
			t.Errorf("passphrase prompts = %q, want one prompt without a trailing separator", prompter.Prompts)
		}

		if !f.blocks.formatted || f.blocks.formatLabel != "WSKKEY" {
			t.Errorf("FormatVFAT not invoked correctly: %+v", f.blocks)
		}
		if !f.blocks.mounted || !f.blocks.unmounted {
			t.Error("usb was not mounted and unmounted")
		}

		onUSB, err := os.ReadFile(filepath.Join(f.cfg.MountPoint, "wsk.key"))
		if err != nil {
			t.Fatalf("keyfile not copied to usb: %v", err)
		}
		original, _ := os.ReadFile(f.keyfilePath())
		if !bytes.Equal(onUSB, original) {
			t.Error("keyfile on usb differs from original")
		}

		if res.VolumeUUID != luksUUID {
			t.Errorf("VolumeUUID = %q, want %q", res.VolumeUUID, luksUUID)
		}
		snippet, err := os.ReadFile(filepath.Join(f.cfg.SnippetDir, grub.SnippetName))
		if err != nil {
			t.Fatalf("snippet not written: %v", err)
		}
		if !strings.Contains(string(snippet), "cryptomount -u f1a6bb350aed4ac2a413a73aa42dcd1a") {
			t.Errorf("snippet missing cryptomount line:\n%s", snippet)
		}
	})

	t.Run("snippet embeds the luks uuid, never the stick's filesystem id", func(t *testing.T) {
		f := newFixture(t)
		if err := os.MkdirAll(f.cfg.MountPoint, 0755); err != nil {
			t.Fatal(err)
		}
		f.luks.unlocks = true

		res, err := f.provisioner(&testutil.StubPrompter{}).Setup()
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}

		for _, dev := range f.blocks.uuidCalls {
			if dev != f.cfg.LUKSDevice {
				t.Errorf("UUID queried for %q, want only %q", dev, f.cfg.LUKSDevice)
			}
		}
		snippet, _ := os.ReadFile(res.SnippetPath)
		if strings.Contains(string(snippet), "1B2C-3D4E") || strings.Contains(string(snippet), "1B2C3D4E") {
			t.Errorf("snippet carries the usb filesystem id:\n%s", snippet)
		}
	})

	t.Run("unreadable luks uuid aborts before the destructive format", func(t *testing.T) {
		f := newFixture(t)
		delete(f.blocks.uuids, f.cfg.LUKSDevice)

		_, err := f.provisioner(&testutil.StubPrompter{Secret: []byte("pw")}).Setup()
		if err == nil {
			t.Fatal("Setup() expected error for unreadable luks uuid")
		}
		if f.blocks.formatted {
			t.Error("usb device formatted despite unreadable luks uuid")
		}
		if len(f.confirmer.Gates) != 0 {
			t.Error("format gate shown despite unreadable luks uuid")
		}
	})

	t.Run("rerun reuses the keyfile and adds no key slot", func(t *testing.T) {
		f := newFixture(t)
		if err := os.MkdirAll(f.cfg.MountPoint, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(f.cfg.KeyfileDir, 0700); err != nil {
			t.Fatal(err)
		}
		existing := bytes.Repeat([]byte{0x42}, luks.KeyfileSize)
		if err := os.WriteFile(f.keyfilePath(), existing, 0400); err != nil {
			t.Fatal(err)
		}
		f.luks.unlocks = true

		res, err := f.provisioner(&testutil.StubPrompter{}).Setup()
		if err != nil {
			t.Fatalf("Setup() error = %v", err)
		}

		if res.KeyfileCreated {
			t.Error("KeyfileCreated = true, want reuse of existing keyfile")
		}
		if res.KeyEnrolled || f.luks.addKeyfileRuns != 0 {
			t.Errorf("key slot added on rerun: runs = %d", f.luks.addKeyfileRuns)
		}
		after, _ := os.ReadFile(f.keyfilePath())
		if !bytes.Equal(after, existing) {
			t.Error("existing keyfile was regenerated")
		}
	})

	t.Run("declined gate aborts before any usb mutation", func(t *testing.T) {
		f := newFixture(t)
		f.confirmer = testutil.NewStubConfirmer("yes")

		_, err := f.provisioner(&testutil.StubPrompter{Secret: []byte("pw")}).Setup()
		if !errors.Is(err, ops.ErrDeclined) {
			t.Fatalf("Setup() error = %v, want ErrDeclined", err)
		}
		if f.blocks.formatted || f.blocks.mounted {
			t.Error("usb device mutated despite declined gate")
		}
	})

	t.Run("mounted usb device is rejected before the gate", func(t *testing.T) {
		f := newFixture(t)
		f.blocks.mountPoint = "/media/usb"

		_, err := f.provisioner(&testutil.StubPrompter{}).Setup()
		if err == nil {
			t.Fatal("Setup() expected error for mounted usb device")
		}
		var stepErr *ops.StepError
		if !errors.As(err, &stepErr) || stepErr.Kind != ops.FailurePrecondition {
			t.Errorf("error = %v, want precondition failure", err)
		}
		if len(f.confirmer.Gates) != 0 {
			t.Error("gate shown despite failed precondition")
		}
		if f.blocks.formatted {
			t.Error("usb device formatted despite being mounted")
		}
	})

	t.Run("non-luks device is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.luks.isLUKS = false

		_, err := f.provisioner(&testutil.StubPrompter{}).Setup()
		var stepErr *ops.StepError
		if !errors.As(err, &stepErr) || stepErr.Kind != ops.FailurePrecondition {
			t.Errorf("error = %v, want precondition failure", err)
		}
	})

	t.Run("missing cryptsetup fails preflight", func(t *testing.T) {
		f := newFixture(t)
		f.luks.unavailable = true

		if _, err := f.provisioner(&testutil.StubPrompter{}).Setup(); err == nil {
			t.Error("Setup() expected error when cryptsetup is unavailable")
		}
	})

	t.Run("requires root", func(t *testing.T) {
		f := newFixture(t)
		restore := usbkey.MockRequireRoot(func(op string) error {
			return ops.Precondition(op, errors.New("must be run as root"))
		})
		defer restore()

		if _, err := f.provisioner(&testutil.StubPrompter{}).Setup(); err == nil {
			t.Error("Setup() expected error for non-root invocation")
		}
	})

	t.Run("identical devices are rejected", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.USBDevice = f.cfg.LUKSDevice

		if _, err := f.provisioner(&testutil.StubPrompter{}).Setup(); err == nil {
			t.Error("Setup() expected error for identical luks and usb devices")
		}
	})

	t.Run("escrows the keyfile when configured", func(t *testing.T) {
		f := newFixture(t)
		if err := os.MkdirAll(f.cfg.MountPoint, 0755); err != nil {
			t.Fatal(err)
		}
		f.escrow.configured = true
		f.luks.unlocks = true

		if _, err := f.provisioner(&testutil.StubPrompter{}).Setup(); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}

		var buf bytes.Buffer
		if err := f.store.Get(ops.StoreKindEscrow, "wsk.key.age", &buf); err != nil {
			t.Fatalf("escrowed keyfile not stored: %v", err)
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte("age:")) {
			t.Error("stored keyfile is not encrypted")
		}
	})

	t.Run("escrow failure does not fail setup", func(t *testing.T) {
		f := newFixture(t)
		if err := os.MkdirAll(f.cfg.MountPoint, 0755); err != nil {
			t.Fatal(err)
		}
		f.escrow.configured = true
		f.escrow.fail = true
		f.luks.unlocks = true

		if _, err := f.provisioner(&testutil.StubPrompter{}).Setup(); err != nil {
			t.Errorf("Setup() error = %v, want escrow failure swallowed", err)
		}
	})
}
