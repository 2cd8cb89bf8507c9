// Package config loads engine configuration from the config file,
// environment and defaults.
//
// Precedence is the usual viper order: explicit flags > ROLLCALL_*
// environment variables > the YAML config file > built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the resolved engine configuration.
type Config struct {
	// ServerURL is the base URL of the attendance service.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`

	// Token is the bearer token for remote calls. Usually supplied
	// via ROLLCALL_TOKEN rather than the file.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// DataDir holds the mirror database, secrets file, backups and
	// daemon log.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// IdentityID is the signed-in teacher identity.
	IdentityID string `mapstructure:"identity_id" yaml:"identity_id,omitempty"`

	SyncInterval    time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	StalenessWindow time.Duration `mapstructure:"staleness_window" yaml:"staleness_window"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	BulkThreshold   int           `mapstructure:"bulk_threshold" yaml:"bulk_threshold"`

	// DashboardPort enables the local status server when > 0.
	DashboardPort int `mapstructure:"dashboard_port" yaml:"dashboard_port,omitempty"`

	// LogFile, when set, routes daemon logs through a rotating file.
	LogFile string `mapstructure:"log_file" yaml:"log_file,omitempty"`
}

// DefaultDataDir returns ~/.rollcall.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rollcall"
	}
	return filepath.Join(home, ".rollcall")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	// Every key gets a default so AutomaticEnv can resolve it even when
	// the config file omits it entirely.
	v.SetDefault("server_url", "")
	v.SetDefault("token", "")
	v.SetDefault("identity_id", "")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("staleness_window", time.Hour)
	v.SetDefault("probe_interval", 15*time.Second)
	v.SetDefault("bulk_threshold", 10)
	v.SetDefault("dashboard_port", 0)
	v.SetDefault("log_file", "")
}

// Load reads configuration, optionally from an explicit file path.
// A missing config file is not an error; defaults and environment
// still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROLLCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile(DefaultPath())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every engine operation needs.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required (config file or ROLLCALL_SERVER_URL)")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if c.IdentityID == "" {
		return fmt.Errorf("identity_id is required; run `rollcall login` first")
	}
	return nil
}

// DBPath returns the mirror database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "rollcall.db")
}

// SecretsPath returns the secrets file location.
func (c *Config) SecretsPath() string {
	return filepath.Join(c.DataDir, "secrets.json")
}

// BackupDir returns where pre-discard snapshots are written.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// WriteStarter writes a commented starter config file at path,
// refusing to overwrite an existing one.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	starter := map[string]any{
		"server_url":       "https://attendance.example.org",
		"data_dir":         DefaultDataDir(),
		"sync_interval":    "5m",
		"staleness_window": "1h",
		"probe_interval":   "15s",
		"bulk_threshold":   10,
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return fmt.Errorf("failed to encode starter config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
