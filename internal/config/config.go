package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the explicit configuration structure passed into every operation.
// There is no implicit module-level state: device paths, labels, key names and
// writer thresholds all live here.
type Config struct {
	HostID  string `toml:"host_id"`
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	USBKey  USBKeyConfig  `toml:"usbkey"`
	Flash   FlashConfig   `toml:"flash"`
	Harden  HardenConfig  `toml:"harden"`
	Store   StoreConfig   `toml:"store"`
	Escrow  EscrowConfig  `toml:"escrow"`
	Journal JournalConfig `toml:"journal"`
	Deps    DepsConfig    `toml:"deps"`
}

// USBKeyConfig drives the LUKS keyfile + USB unlock provisioner.
// EnumWaitSeconds, MenuTimeoutSeconds and Verbose tune the generated GRUB
// snippet; they are configuration rather than constants because the snippet
// defaults are debug-oriented (verbose tracing, generous waits).
type USBKeyConfig struct {
	LUKSDevice         string `toml:"luks_device"`
	USBDevice          string `toml:"usb_device"`
	FSLabel            string `toml:"fs_label"`
	KeyfileName        string `toml:"keyfile_name"`
	KeyfileDir         string `toml:"keyfile_dir"`
	SnippetDir         string `toml:"snippet_dir"`
	MountPoint         string `toml:"mount_point"`
	EnumWaitSeconds    int    `toml:"enum_wait_seconds"`
	MenuTimeoutSeconds int    `toml:"menu_timeout_seconds"`
	Verbose            bool   `toml:"verbose"`
}

// FlashConfig holds the chunked raw-device writer defaults. All four knobs
// are operator-overridable per invocation via flags.
type FlashConfig struct {
	ChunkSize          int64 `toml:"chunk_size"`
	PauseSeconds       int   `toml:"pause_seconds"`
	CycleThreshold     int64 `toml:"cycle_threshold"`
	RemountWaitSeconds int   `toml:"remount_wait_seconds"`
}

// HardenConfig holds the host isolation settings. An empty Services list
// means the built-in service sweep is used.
type HardenConfig struct {
	Services       []string `toml:"services,omitempty"`
	DisableIPv6    bool     `toml:"disable_ipv6"`
	RemovePackages []string `toml:"remove_packages,omitempty"`
	OutboundUser   string   `toml:"outbound_user,omitempty"`
	Interfaces     []string `toml:"interfaces,omitempty"`
}

// StoreConfig selects the backup store holding firewall ruleset snapshots and
// keyfile escrow copies. This uses a tagged union pattern - the Type field
// determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "filesystem", "s3" or "memory"

	// Filesystem-specific field (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
}

// EscrowConfig enables the age-encrypted off-host recovery copy of the LUKS
// keyfile. RecipientPath points at an age public key file; IdentityPath holds
// the passphrase-encrypted private key written by `wsk escrow init`.
type EscrowConfig struct {
	Enabled       bool   `toml:"enabled"`
	RecipientPath string `toml:"recipient_path,omitempty"`
	IdentityPath  string `toml:"identity_path,omitempty"`
}

// JournalConfig selects the run journal backend.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DepsConfig selects the package manager for the dependency checker and
// optionally overrides the skip-list of always-present commands.
type DepsConfig struct {
	Manager string   `toml:"manager"` // "zypper" or "apt"
	Skip    []string `toml:"skip,omitempty"`
}

// NewConfig creates a Config with the provided identity and sensible defaults
// for everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		USBKey: USBKeyConfig{
			FSLabel:            "WSKKEY",
			KeyfileName:        "wsk.key",
			KeyfileDir:         filepath.Join(baseDir, "keys"),
			SnippetDir:         "/etc/grub.d",
			MountPoint:         "/mnt/wsk-usb",
			EnumWaitSeconds:    10,
			MenuTimeoutSeconds: 30,
			Verbose:            true,
		},
		Flash: FlashConfig{
			ChunkSize:          1 << 30,
			PauseSeconds:       2,
			CycleThreshold:     2 << 30,
			RemountWaitSeconds: 5,
		},
		Store: StoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "store"),
		},
		Escrow: EscrowConfig{
			RecipientPath: filepath.Join(baseDir, "keys", "escrow.pub"),
			IdentityPath:  filepath.Join(baseDir, "keys", "escrow.key"),
		},
		Journal: JournalConfig{
			Type:    "sqlite",
			DataDir: baseDir,
		},
		Deps: DepsConfig{
			Manager: "zypper",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
