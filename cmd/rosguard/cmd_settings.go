package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/rosguard/pkg/cli"
	"github.com/newtron-network/rosguard/pkg/settings"
)

// settingsPath is overridden in tests.
var settingsPath = settings.DefaultSettingsPath

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.rosguard/settings.json.

Examples:
  rosguard settings show
  rosguard settings set default_device core1
  rosguard settings set redis_addr localhost:6379
  rosguard settings device add core1 --host 10.0.0.1 --user admin --key-file ~/.ssh/id_ed25519
  rosguard settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if app.jsonOutput {
			redacted := *s
			redacted.Devices = redactPasswords(s.Devices)
			return printJSON(redacted)
		}

		fmt.Printf("Settings file: %s\n\n", settingsPath())

		t := cli.NewTable("SETTING", "VALUE")
		printSetting := func(name, value string) {
			if value == "" {
				value = "(not set)"
			}
			t.Row(name, value)
		}
		printSetting("default_device", s.DefaultDevice)
		printSetting("catalog_path", s.CatalogPath)
		printSetting("audit_log_path", s.GetAuditLogPath())
		printSetting("audit_max_size", strconv.FormatInt(s.GetAuditMaxSize(), 10))
		printSetting("audit_max_backups", strconv.Itoa(s.GetAuditMaxBackups()))
		printSetting("history_capacity", intSetting(s.HistoryCapacity))
		printSetting("redis_addr", s.RedisAddr)
		printSetting("redis_db", strconv.Itoa(s.RedisDB))
		t.Flush()

		if len(s.Devices) == 0 {
			return nil
		}
		fmt.Println()
		dt := cli.NewTable("DEVICE", "HOST", "PORT", "USER", "AUTH")
		for _, id := range s.DeviceIDs() {
			d := s.Devices[id]
			dt.Row(id, d.Host, intSetting(d.Port), d.User, authMethod(d))
		}
		dt.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value.

Available settings:
  default_device     - Device used when -d is not given
  catalog_path       - Risk catalog YAML replacing the built-in one
  audit_log_path     - Audit log file (default ~/.rosguard/audit.log)
  audit_max_size     - Rotate the audit log after this many bytes
  audit_max_backups  - Rotated audit logs to keep
  history_capacity   - In-memory workflow history size
  redis_addr         - Redis address for cross-process device locks (without
                       it, concurrent rosguard processes do not see each
                       other's sessions)
  redis_db           - Redis database number`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			s = &settings.Settings{}
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("All settings cleared.")
		return nil
	},
}

var settingsDeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage device profiles",
}

var deviceProfile settings.Device

var settingsDeviceAddCmd = &cobra.Command{
	Use:   "add <device>",
	Short: "Add or replace a device profile",
	Long: `Add or replace the SSH profile for a device.

Passwords stored here are kept in the settings file (mode 0600). Prefer a
key file, or leave both empty to be prompted (or set ROSGUARD_PASSWORD).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deviceProfile.Host == "" {
			return fmt.Errorf("--host is required")
		}
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		s.SetDevice(args[0], deviceProfile)
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("Device %s saved (%s)\n", args[0], deviceProfile.Host)
		return nil
	},
}

var settingsDeviceRemoveCmd = &cobra.Command{
	Use:   "remove <device>",
	Short: "Remove a device profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if _, ok := s.Devices[args[0]]; !ok {
			return fmt.Errorf("no device profile named %q", args[0])
		}
		s.RemoveDevice(args[0])
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("Device %s removed\n", args[0])
		return nil
	},
}

func init() {
	f := settingsDeviceAddCmd.Flags()
	f.StringVar(&deviceProfile.Host, "host", "", "Device address")
	f.IntVar(&deviceProfile.Port, "port", 0, "SSH port (default 22)")
	f.StringVar(&deviceProfile.User, "user", "", "SSH user")
	f.StringVar(&deviceProfile.Password, "password", "", "SSH password (stored in the settings file)")
	f.StringVar(&deviceProfile.KeyFile, "key-file", "", "SSH private key file")
	f.StringVar(&deviceProfile.KnownHostsFile, "known-hosts", "", "known_hosts file for host key verification")

	settingsDeviceCmd.AddCommand(settingsDeviceAddCmd, settingsDeviceRemoveCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsClearCmd, settingsDeviceCmd)
}

func intSetting(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func authMethod(d settings.Device) string {
	switch {
	case d.KeyFile != "":
		return "key " + d.KeyFile
	case d.Password != "":
		return "password"
	default:
		return "prompt"
	}
}

func redactPasswords(devices map[string]settings.Device) map[string]settings.Device {
	out := make(map[string]settings.Device, len(devices))
	for id, d := range devices {
		if d.Password != "" {
			d.Password = "********"
		}
		out[id] = d
	}
	return out
}
