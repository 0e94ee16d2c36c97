// Package usbkey provisions a USB stick as a LUKS unlock token: it enrolls a
// keyfile into the encrypted root device, copies the keyfile onto a freshly
// formatted stick, and drops a GRUB snippet that unlocks from the stick at
// boot.
package usbkey

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"wsk-go/internal/config"
	"wsk-go/internal/grub"
	"wsk-go/internal/luks"
	"wsk-go/internal/ops"
)

var requireRoot = ops.RequireRoot

// BlockDevices is the slice of block-device management the provisioner needs.
type BlockDevices interface {
	CheckBlockDevice(device string) error
	MountPoint(device string) (string, error)
	UUID(device string) (string, error)
	FormatVFAT(device, label string) error
	Mount(device, dir string) error
	Unmount(dir string) error
}

// LUKSDevices is the slice of LUKS management the provisioner needs.
type LUKSDevices interface {
	CheckAvailable() error
	IsLUKS(device string) (bool, error)
	KeyfileUnlocks(device, keyfile string) (bool, error)
	AddKeyfile(device, keyfile string, passphrase []byte) error
}

// Escrow encrypts the keyfile for off-host backup. Implementations that are
// not configured return false from IsConfigured and are skipped.
type Escrow interface {
	IsConfigured() bool
	Encrypt(r io.Reader, w io.Writer) error
}

// Result reports what the setup run actually did.
type Result struct {
	KeyfileCreated bool
	KeyEnrolled    bool
	VolumeUUID     string // UUID of the LUKS volume, embedded in the snippet
	SnippetPath    string
}

// Provisioner runs the usbkey setup pipeline.
type Provisioner struct {
	blocks    BlockDevices
	luks      LUKSDevices
	confirmer ops.Confirmer
	prompter  ops.Prompter
	logger    ops.Logger
	store     ops.Store
	escrow    Escrow
	cfg       config.USBKeyConfig
}

// NewProvisioner creates a provisioner. store and escrow may be nil, in which
// case no keyfile backup is taken.
func NewProvisioner(blocks BlockDevices, ld LUKSDevices, confirmer ops.Confirmer, prompter ops.Prompter, logger ops.Logger, store ops.Store, esc Escrow, cfg config.USBKeyConfig) *Provisioner {
	return &Provisioner{
		blocks:    blocks,
		luks:      ld,
		confirmer: confirmer,
		prompter:  prompter,
		logger:    logger,
		store:     store,
		escrow:    esc,
		cfg:       cfg,
	}
}

// Setup provisions the USB key end to end. Rerunning against an already
// provisioned pair of devices regenerates nothing: the existing keyfile is
// reused and no second key slot is added.
func (p *Provisioner) Setup() (*Result, error) {
	if p.cfg.LUKSDevice == "" || p.cfg.USBDevice == "" {
		return nil, fmt.Errorf("luks_device and usb_device must be configured")
	}
	if p.cfg.LUKSDevice == p.cfg.USBDevice {
		return nil, fmt.Errorf("luks_device and usb_device are both %s", p.cfg.LUKSDevice)
	}

	res := &Result{}
	keyfilePath := filepath.Join(p.cfg.KeyfileDir, p.cfg.KeyfileName)

	pipe := ops.NewPipeline(p.logger,
		ops.Step{Name: "preflight", Run: func() error {
			if err := requireRoot("usbkey setup"); err != nil {
				return err
			}
			return p.luks.CheckAvailable()
		}},
		ops.Step{Name: "validate luks device", Run: func() error {
			if err := p.blocks.CheckBlockDevice(p.cfg.LUKSDevice); err != nil {
				return err
			}
			isLUKS, err := p.luks.IsLUKS(p.cfg.LUKSDevice)
			if err != nil {
				return err
			}
			if !isLUKS {
				return ops.Precondition("validate luks device",
					fmt.Errorf("%s is not a LUKS device", p.cfg.LUKSDevice))
			}
			return nil
		}},
		ops.Step{Name: "ensure keyfile", Run: func() error {
			created, err := luks.EnsureKeyfile(keyfilePath)
			if err != nil {
				return err
			}
			res.KeyfileCreated = created
			if created {
				p.logger.Info("keyfile generated", "path", keyfilePath)
			} else {
				p.logger.Info("reusing existing keyfile", "path", keyfilePath)
			}
			return nil
		}},
		ops.Step{Name: "enroll keyfile", Run: func() error {
			return p.enrollKeyfile(keyfilePath, res)
		}},
		ops.Step{Name: "read luks uuid", Run: func() error {
			uuid, err := p.blocks.UUID(p.cfg.LUKSDevice)
			if err != nil {
				return err
			}
			res.VolumeUUID = uuid
			return nil
		}},
		ops.Step{Name: "validate usb device", Run: func() error {
			if err := p.blocks.CheckBlockDevice(p.cfg.USBDevice); err != nil {
				return err
			}
			mountPoint, err := p.blocks.MountPoint(p.cfg.USBDevice)
			if err != nil {
				return err
			}
			if mountPoint != "" {
				return ops.Precondition("validate usb device",
					fmt.Errorf("%s is mounted at %s, unmount it first", p.cfg.USBDevice, mountPoint))
			}
			return nil
		}},
		ops.Step{Name: "confirm format", Run: func() error {
			prompt := fmt.Sprintf("All data on %s will be destroyed.", p.cfg.USBDevice)
			ok, err := p.confirmer.Confirm(ops.DestructiveGate(prompt))
			if err != nil {
				return err
			}
			if !ok {
				return ops.ErrDeclined
			}
			return nil
		}},
		ops.Step{Name: "format usb", Run: func() error {
			return p.blocks.FormatVFAT(p.cfg.USBDevice, p.cfg.FSLabel)
		}},
		ops.Step{Name: "install keyfile", Run: func() error {
			return p.installKeyfile(keyfilePath)
		}},
		ops.Step{Name: "write grub snippet", Run: func() error {
			snippet := grub.Snippet{
				VolumeUUID:         res.VolumeUUID,
				Label:              p.cfg.FSLabel,
				KeyfileName:        p.cfg.KeyfileName,
				EnumWaitSeconds:    p.cfg.EnumWaitSeconds,
				MenuTimeoutSeconds: p.cfg.MenuTimeoutSeconds,
				Verbose:            p.cfg.Verbose,
			}
			path, err := snippet.Write(p.cfg.SnippetDir)
			if err != nil {
				return err
			}
			res.SnippetPath = path
			p.logger.Info("grub snippet written", "path", path)
			return nil
		}},
		ops.Step{Name: "escrow keyfile", BestEffort: true, Run: func() error {
			return p.escrowKeyfile(keyfilePath)
		}},
	)

	if err := pipe.Run(); err != nil {
		return nil, err
	}
	return res, nil
}

// enrollKeyfile adds the keyfile to a LUKS key slot unless it already unlocks
// the device.
func (p *Provisioner) enrollKeyfile(keyfilePath string, res *Result) error {
	unlocks, err := p.luks.KeyfileUnlocks(p.cfg.LUKSDevice, keyfilePath)
	if err != nil {
		return err
	}
	if unlocks {
		p.logger.Info("keyfile already unlocks device", "device", p.cfg.LUKSDevice)
		return nil
	}

	passphrase, err := p.prompter.ReadSecret(fmt.Sprintf("Enter an existing passphrase for %s", p.cfg.LUKSDevice))
	if err != nil {
		return err
	}
	if err := p.luks.AddKeyfile(p.cfg.LUKSDevice, keyfilePath, passphrase); err != nil {
		return err
	}
	res.KeyEnrolled = true
	p.logger.Info("keyfile enrolled", "device", p.cfg.LUKSDevice)
	return nil
}

// installKeyfile mounts the stick, copies the keyfile onto it, and unmounts.
func (p *Provisioner) installKeyfile(keyfilePath string) error {
	if err := p.blocks.Mount(p.cfg.USBDevice, p.cfg.MountPoint); err != nil {
		return err
	}

	copyErr := func() error {
		data, err := os.ReadFile(keyfilePath)
		if err != nil {
			return fmt.Errorf("reading keyfile: %w", err)
		}
		dst := filepath.Join(p.cfg.MountPoint, p.cfg.KeyfileName)
		if err := os.WriteFile(dst, data, 0400); err != nil {
			return fmt.Errorf("copying keyfile to usb: %w", err)
		}
		return nil
	}()

	if err := p.blocks.Unmount(p.cfg.MountPoint); err != nil {
		if copyErr != nil {
			return copyErr
		}
		return err
	}
	return copyErr
}

// escrowKeyfile stores an encrypted copy of the keyfile, when both an escrow
// recipient and a store are configured.
func (p *Provisioner) escrowKeyfile(keyfilePath string) error {
	if p.escrow == nil || p.store == nil || !p.escrow.IsConfigured() {
		p.logger.Debug("escrow not configured, skipping keyfile backup")
		return nil
	}

	f, err := os.Open(keyfilePath)
	if err != nil {
		return fmt.Errorf("reading keyfile for escrow: %w", err)
	}
	defer f.Close()

	var encrypted bytes.Buffer
	if err := p.escrow.Encrypt(f, &encrypted); err != nil {
		return fmt.Errorf("encrypting keyfile: %w", err)
	}

	name := p.cfg.KeyfileName + ".age"
	if err := p.store.Put(ops.StoreKindEscrow, name, bytes.NewReader(encrypted.Bytes()), int64(encrypted.Len())); err != nil {
		return fmt.Errorf("storing escrowed keyfile: %w", err)
	}
	p.logger.Info("keyfile escrowed", "name", name)
	return nil
}
