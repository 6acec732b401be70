// Package settings manages persistent user settings for the rosguard CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/newtron-network/rosguard/pkg/executor"
)

// PasswordEnv overrides the stored password of every device profile.
const PasswordEnv = "ROSGUARD_PASSWORD"

// Defaults for settings left unset.
const (
	DefaultAuditMaxSize    = 10 << 20
	DefaultAuditMaxBackups = 5
)

// Device is how the CLI reaches one router.
type Device struct {
	Host           string `json:"host"`
	Port           int    `json:"port,omitempty"`
	User           string `json:"user,omitempty"`
	Password       string `json:"password,omitempty"`
	KeyFile        string `json:"key_file,omitempty"`
	KnownHostsFile string `json:"known_hosts_file,omitempty"`
}

// Settings holds persistent user preferences
type Settings struct {
	// DefaultDevice is the device to use when -d is not specified
	DefaultDevice string `json:"default_device,omitempty"`

	Devices map[string]Device `json:"devices,omitempty"`

	// CatalogPath overrides the built-in risk catalog
	CatalogPath string `json:"catalog_path,omitempty"`

	AuditLogPath    string `json:"audit_log_path,omitempty"`
	AuditMaxSize    int64  `json:"audit_max_size,omitempty"`
	AuditMaxBackups int    `json:"audit_max_backups,omitempty"`

	HistoryCapacity int `json:"history_capacity,omitempty"`

	// RedisAddr enables the cross-process device lock when set. Without it
	// each rosguard process keeps its own device slots, so two processes can
	// run safe mode sessions on the same device at once.
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rosguard"
	}
	return filepath.Join(home, ".rosguard")
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	return filepath.Join(configDir(), "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields empty
// settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path. The file may hold passwords, so
// it is readable only by the owner.
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetAuditLogPath returns the audit log path (with fallback)
func (s *Settings) GetAuditLogPath() string {
	if s.AuditLogPath != "" {
		return s.AuditLogPath
	}
	return filepath.Join(configDir(), "audit.log")
}

func (s *Settings) GetAuditMaxSize() int64 {
	if s.AuditMaxSize > 0 {
		return s.AuditMaxSize
	}
	return DefaultAuditMaxSize
}

func (s *Settings) GetAuditMaxBackups() int {
	if s.AuditMaxBackups > 0 {
		return s.AuditMaxBackups
	}
	return DefaultAuditMaxBackups
}

// SetDevice adds or replaces a device profile.
func (s *Settings) SetDevice(id string, d Device) {
	if s.Devices == nil {
		s.Devices = make(map[string]Device)
	}
	s.Devices[id] = d
}

// RemoveDevice deletes a profile, clearing the default device if it pointed
// at it.
func (s *Settings) RemoveDevice(id string) {
	delete(s.Devices, id)
	if s.DefaultDevice == id {
		s.DefaultDevice = ""
	}
}

// DeviceIDs returns the configured device IDs in sorted order.
func (s *Settings) DeviceIDs() []string {
	ids := make([]string, 0, len(s.Devices))
	for id := range s.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SSHProfiles converts the device profiles for executor.NewSSHResolver.
// A non-empty password overrides every stored password.
func (s *Settings) SSHProfiles(password string) map[string]executor.SSHConfig {
	profiles := make(map[string]executor.SSHConfig, len(s.Devices))
	for id, d := range s.Devices {
		cfg := executor.SSHConfig{
			Host:           d.Host,
			Port:           d.Port,
			User:           d.User,
			Password:       d.Password,
			KeyFile:        expandHome(d.KeyFile),
			KnownHostsFile: expandHome(d.KnownHostsFile),
		}
		if password != "" {
			cfg.Password = password
		}
		profiles[id] = cfg
	}
	return profiles
}

// NeedsPassword reports whether the device has neither a password nor a key.
func (s *Settings) NeedsPassword(id string) bool {
	d, ok := s.Devices[id]
	return ok && d.Password == "" && d.KeyFile == ""
}

// Set assigns a scalar setting by its JSON name.
func (s *Settings) Set(key, value string) error {
	switch key {
	case "default_device":
		s.DefaultDevice = value
	case "catalog_path":
		s.CatalogPath = value
	case "audit_log_path":
		s.AuditLogPath = value
	case "audit_max_size":
		return setInt64(&s.AuditMaxSize, key, value)
	case "audit_max_backups":
		return setInt(&s.AuditMaxBackups, key, value)
	case "history_capacity":
		return setInt(&s.HistoryCapacity, key, value)
	case "redis_addr":
		s.RedisAddr = value
	case "redis_db":
		return setInt(&s.RedisDB, key, value)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}

func setInt(dst *int, key, value string) error {
	var n int64
	if err := setInt64(&n, key, value); err != nil {
		return err
	}
	*dst = int(n)
	return nil
}

func setInt64(dst *int64, key, value string) error {
	var n int64
	if _, err := fmt.Sscan(value, &n); err != nil || n < 0 {
		return fmt.Errorf("%s: expected a non-negative integer, got %q", key, value)
	}
	*dst = n
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
