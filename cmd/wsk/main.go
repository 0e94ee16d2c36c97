package main

import (
	"fmt"
	"os"
	"time"

	"wsk-go/internal/app"
	"wsk-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a WSKApp. The caller must defer
// app.Close().
func newApp() (*app.WSKApp, *config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewWSKApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "wsk",
	Short: "Workstation security kit",
	Long:  "wsk provisions USB unlock keys for LUKS volumes, flashes and wipes removable media, and hardens operator workstations.",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("LUKS Device: %s\n", cfg.USBKey.LUKSDevice)
		fmt.Printf("USB Device:  %s\n", cfg.USBKey.USBDevice)
		fmt.Printf("Store:       %s\n", cfg.Store.Type)
		fmt.Printf("Journal:     %s\n", cfg.Journal.Type)
		fmt.Printf("Pkg Manager: %s\n", cfg.Deps.Manager)
		return nil
	},
}

// flash command
var flashCmd = &cobra.Command{
	Use:   "flash IMAGE DEVICE",
	Short: "Write an image onto a raw device in chunks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		applyFlashFlags(cmd, cfg)

		res, err := a.Flash(args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %d bytes to %s (%d chunks of %d bytes, remainder %d)\n",
			res.BytesWritten, args[1], res.Plan.FullChunks, res.Plan.ChunkSize, res.Plan.Remainder)
		return nil
	},
}

// wipe command
var wipeCmd = &cobra.Command{
	Use:   "wipe DEVICE",
	Short: "Overwrite a device with zeros",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		applyFlashFlags(cmd, cfg)

		res, err := a.Wipe(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Wiped %d bytes on %s\n", res.BytesWritten, args[0])
		return nil
	},
}

// applyFlashFlags overrides writer config from flags set on cmd.
func applyFlashFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("chunk-size") {
		cfg.Flash.ChunkSize, _ = cmd.Flags().GetInt64("chunk-size")
	}
	if cmd.Flags().Changed("pause") {
		cfg.Flash.PauseSeconds, _ = cmd.Flags().GetInt("pause")
	}
	if cmd.Flags().Changed("cycle-threshold") {
		cfg.Flash.CycleThreshold, _ = cmd.Flags().GetInt64("cycle-threshold")
	}
	if cmd.Flags().Changed("remount-wait") {
		cfg.Flash.RemountWaitSeconds, _ = cmd.Flags().GetInt("remount-wait")
	}
}

func addFlashFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("chunk-size", 0, "Chunk size in bytes")
	cmd.Flags().Int("pause", 0, "Seconds to pause between chunks")
	cmd.Flags().Int64("cycle-threshold", 0, "Bytes written before an unmount/remount cycle")
	cmd.Flags().Int("remount-wait", 0, "Seconds to wait between unmount and remount")
}

// usbkey command
var usbkeyCmd = &cobra.Command{
	Use:   "usbkey",
	Short: "Manage the USB unlock key",
}

var usbkeySetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision a USB stick as a LUKS unlock key",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.USBKeySetup()
		if err != nil {
			return err
		}

		if res.KeyfileCreated {
			fmt.Println("Generated a new keyfile.")
		} else {
			fmt.Println("Reused the existing keyfile.")
		}
		if res.KeyEnrolled {
			fmt.Println("Enrolled the keyfile into a new LUKS key slot.")
		} else {
			fmt.Println("Keyfile already unlocks the LUKS device.")
		}
		fmt.Printf("Volume UUID: %s\n", res.VolumeUUID)
		fmt.Printf("GRUB snippet: %s\n", res.SnippetPath)
		fmt.Println("Run grub2-mkconfig to activate the snippet.")
		return nil
	},
}

// escrow command
var escrowCmd = &cobra.Command{
	Use:   "escrow",
	Short: "Manage keyfile escrow",
}

var escrowInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the escrow key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.EscrowInit(); err != nil {
			return err
		}

		fmt.Printf("Escrow recipient key: %s\n", cfg.Escrow.RecipientPath)
		fmt.Printf("Escrow identity key:  %s (passphrase protected)\n", cfg.Escrow.IdentityPath)
		return nil
	},
}

var escrowRecoverCmd = &cobra.Command{
	Use:   "recover OUTPUT",
	Short: "Decrypt the escrowed keyfile into OUTPUT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.EscrowRecover(name, args[0]); err != nil {
			return err
		}

		fmt.Printf("Recovered keyfile written to %s\n", args[0])
		return nil
	},
}

// harden command
var hardenCmd = &cobra.Command{
	Use:   "harden",
	Short: "Apply the host isolation sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Harden(); err != nil {
			return err
		}
		fmt.Println("Hardening complete.")
		return nil
	},
}

// rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Reverse a previous hardening run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Rollback(); err != nil {
			return err
		}
		fmt.Println("Rollback complete.")
		return nil
	},
}

// deps command
var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage external tool dependencies",
}

var depsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report missing tools without installing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		missing, err := a.DepsCheck()
		if err != nil {
			return err
		}

		if len(missing) == 0 {
			fmt.Println("All required tools are installed.")
			return nil
		}
		for _, m := range missing {
			if m.Package == "" {
				fmt.Printf("missing: %-20s (no package mapping)\n", m.Command)
			} else {
				fmt.Printf("missing: %-20s package: %s\n", m.Command, m.Package)
			}
		}
		return nil
	},
}

var depsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install packages for missing tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		missing, err := a.DepsInstall()
		if err != nil {
			return err
		}

		if len(missing) == 0 {
			fmt.Println("All required tools are installed.")
			return nil
		}
		fmt.Printf("Installed packages for %d missing tool(s).\n", len(missing))
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the journal of past runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				r.Parameters,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	usbkeyCmd.AddCommand(usbkeySetupCmd)
	escrowCmd.AddCommand(escrowInitCmd)
	escrowCmd.AddCommand(escrowRecoverCmd)
	escrowRecoverCmd.Flags().String("name", "", "Stored copy to recover (defaults to the configured keyfile)")

	depsCmd.AddCommand(depsCheckCmd)
	depsCmd.AddCommand(depsInstallCmd)

	addFlashFlags(flashCmd)
	addFlashFlags(wipeCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(usbkeyCmd)
	rootCmd.AddCommand(escrowCmd)
	rootCmd.AddCommand(hardenCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(historyCmd)
}
