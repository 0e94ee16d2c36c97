// Package app is the application layer between the CLI and the operation
// services. It constructs all dependencies from config, exposes one method
// per CLI command, and journals every mutating run.
package app

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"wsk-go/internal/block"
	"wsk-go/internal/config"
	"wsk-go/internal/console"
	"wsk-go/internal/deps"
	"wsk-go/internal/escrow"
	"wsk-go/internal/flash"
	"wsk-go/internal/harden"
	"wsk-go/internal/journal"
	"wsk-go/internal/luks"
	"wsk-go/internal/ops"
	"wsk-go/internal/run"
	"wsk-go/internal/store"
	"wsk-go/internal/usbkey"
)

// terminal is the interactive surface the app needs: confirmation gates and
// hidden passphrase entry.
type terminal interface {
	ops.Confirmer
	ops.Prompter
}

// WSKApp wires the operation services together. The caller must call Close
// when done.
type WSKApp struct {
	cfg     *config.Config
	logger  ops.Logger
	logFile *os.File
	runner  ops.Runner
	console terminal
	blocks  *block.Manager
	store   ops.Store
	journal journal.Journal
}

// NewWSKApp creates a fully wired WSKApp from the given config.
func NewWSKApp(cfg *config.Config) (*WSKApp, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	st, err := store.NewStoreFromConfig(cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	jnl, err := journal.NewJournalFromConfig(cfg.Journal, cfg.HostID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	runner := run.NewOSRunner(logger)

	return &WSKApp{
		cfg:     cfg,
		logger:  logger,
		logFile: logFile,
		runner:  runner,
		console: console.NewStdio(),
		blocks:  block.NewManager(runner),
		store:   st,
		journal: jnl,
	}, nil
}

// Flash writes the image at imagePath onto device.
func (a *WSKApp) Flash(imagePath, device string) (*flash.Result, error) {
	var res *flash.Result
	err := a.journaled("flash", imagePath+" "+device, func() error {
		r, err := a.flashService().Flash(imagePath, device)
		res = r
		return err
	})
	return res, err
}

// Wipe overwrites device with zeros.
func (a *WSKApp) Wipe(device string) (*flash.Result, error) {
	var res *flash.Result
	err := a.journaled("wipe", device, func() error {
		r, err := a.flashService().Wipe(device)
		res = r
		return err
	})
	return res, err
}

func (a *WSKApp) flashService() *flash.Service {
	fc := a.cfg.Flash
	return flash.NewService(a.blocks, a.runner, a.console, a.logger, ops.RealClock{},
		fc.ChunkSize,
		time.Duration(fc.PauseSeconds)*time.Second,
		fc.CycleThreshold,
		time.Duration(fc.RemountWaitSeconds)*time.Second)
}

// USBKeySetup provisions the USB unlock key per the usbkey config.
func (a *WSKApp) USBKeySetup() (*usbkey.Result, error) {
	var esc usbkey.Escrow
	if a.cfg.Escrow.Enabled {
		esc = escrow.New(a.cfg.Escrow.RecipientPath, a.cfg.Escrow.IdentityPath)
	}

	p := usbkey.NewProvisioner(a.blocks, luks.NewManager(a.runner),
		a.console, a.console, a.logger, a.store, esc, a.cfg.USBKey)

	var res *usbkey.Result
	err := a.journaled("usbkey-setup", a.cfg.USBKey.USBDevice, func() error {
		r, err := p.Setup()
		res = r
		return err
	})
	return res, err
}

// EscrowInit generates the escrow key pair, protecting the private key with a
// passphrase read from the terminal.
func (a *WSKApp) EscrowInit() error {
	e := escrow.New(a.cfg.Escrow.RecipientPath, a.cfg.Escrow.IdentityPath)
	if e.IsConfigured() {
		return fmt.Errorf("escrow recipient key already exists at %s", a.cfg.Escrow.RecipientPath)
	}

	passphrase, err := a.console.ReadSecret("Choose a passphrase for the escrow private key")
	if err != nil {
		return err
	}
	return e.Setup(string(passphrase))
}

// EscrowRecover decrypts the escrowed keyfile copy named name from the store
// into outPath. An empty name selects the configured keyfile's copy.
func (a *WSKApp) EscrowRecover(name, outPath string) error {
	if name == "" {
		name = a.cfg.USBKey.KeyfileName + ".age"
	}

	e := escrow.New(a.cfg.Escrow.RecipientPath, a.cfg.Escrow.IdentityPath)
	passphrase, err := a.console.ReadSecret("Enter the escrow private key passphrase")
	if err != nil {
		return err
	}
	dec, err := e.Unlock(string(passphrase))
	if err != nil {
		return err
	}

	var encrypted bytes.Buffer
	if err := a.store.Get(ops.StoreKindEscrow, name, &encrypted); err != nil {
		return fmt.Errorf("loading escrowed keyfile %s: %w", name, err)
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0400)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	if err := dec.Decrypt(&encrypted, out); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("decrypting keyfile: %w", err)
	}
	return out.Close()
}

// Harden applies the host isolation sweep.
func (a *WSKApp) Harden() error {
	return a.journaled("harden", "", a.hardenService().Harden)
}

// Rollback reverses a previous hardening run.
func (a *WSKApp) Rollback() error {
	return a.journaled("rollback", "", a.hardenService().Rollback)
}

func (a *WSKApp) hardenService() *harden.Service {
	return harden.NewService(a.runner, a.console, a.logger, ops.RealClock{},
		a.store, a.cfg.HostID, a.cfg.Harden, a.cfg.Deps.Manager)
}

// DepsCheck reports required external tools missing from PATH. It never
// installs anything.
func (a *WSKApp) DepsCheck() ([]deps.Report, error) {
	checker, err := deps.NewChecker(a.runner, a.logger, a.cfg.Deps.Manager, a.cfg.Deps.Skip)
	if err != nil {
		return nil, err
	}
	return checker.Missing()
}

// DepsInstall installs packages for all missing tools and returns what was
// missing before the install.
func (a *WSKApp) DepsInstall() ([]deps.Report, error) {
	checker, err := deps.NewChecker(a.runner, a.logger, a.cfg.Deps.Manager, a.cfg.Deps.Skip)
	if err != nil {
		return nil, err
	}
	missing, err := checker.Missing()
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return nil, nil
	}

	err = a.journaled("deps-install", fmt.Sprintf("%d packages", len(missing)), func() error {
		return checker.Install(missing)
	})
	return missing, err
}

// History returns the most recent journaled runs, newest first.
func (a *WSKApp) History(limit int) ([]journal.Run, error) {
	return a.journal.List(limit)
}

// journaled records a run around fn. A journal failure on finish is logged
// rather than masking fn's result.
func (a *WSKApp) journaled(operation, parameters string, fn func() error) error {
	id, err := a.journal.Begin(operation, parameters)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}

	runErr := fn()

	status := journal.StatusSuccess
	if runErr != nil {
		status = journal.StatusFailed
	}
	if err := a.journal.Finish(id, status); err != nil {
		a.logger.Warn("recording run finish failed", "run", id, "error", err)
	}
	return runErr
}

// Close releases the journal and the log file.
func (a *WSKApp) Close() error {
	var firstErr error

	if err := a.journal.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
