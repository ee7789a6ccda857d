package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.config/snowbridge/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is a single named connection profile. The private key referenced
// here must be registered on the Snowflake user; the CLI only ever signs
// JWTs with it, it never sends the key anywhere.
type Profile struct {
	Account              string `yaml:"account,omitempty"`
	Host                 string `yaml:"host,omitempty"`
	User                 string `yaml:"user,omitempty"`
	PrivateKeyPath       string `yaml:"private-key-path,omitempty"`
	PrivateKeyPassphrase string `yaml:"private-key-passphrase,omitempty"`
	Database             string `yaml:"database,omitempty"`
	Warehouse            string `yaml:"warehouse,omitempty"`
	Role                 string `yaml:"role,omitempty"`
	BackendURL           string `yaml:"backend-url,omitempty"`
	Output               string `yaml:"output,omitempty"`
}

// ActiveProfile returns the profile to use based on the override or current-profile.
func (c *UserConfig) ActiveProfile(override string) Profile {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p
	}
	return Profile{}
}

// ConfigDir returns the path to ~/.config/snowbridge/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "snowbridge")
}

// ConfigPath returns the path to ~/.config/snowbridge/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateDBPath returns the path to the CLI's local state database. It holds
// the restart journal so an interrupted `app restart` can be finished.
func StateDBPath() string {
	return filepath.Join(ConfigDir(), "state.sqlite")
}

// LoadUserConfig reads ~/.config/snowbridge/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // fixed path under the user's home
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes ~/.config/snowbridge/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
