package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	in := &UserConfig{
		CurrentProfile: "prod",
		Profiles: map[string]Profile{
			"prod": {
				Account:        "XY12345",
				User:           "SVC_AGENT",
				PrivateKeyPath: "/keys/rsa_key.p8",
				Database:       "MCD_AGENT",
				BackendURL:     "https://orchestrator.example.com",
				Output:         "json",
			},
		},
	}
	require.NoError(t, SaveUserConfig(in))

	out, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "prod", out.CurrentProfile)
	assert.Equal(t, in.Profiles["prod"], out.Profiles["prod"])

	// The file lives under ~/.config/snowbridge and is not world readable.
	info, err := os.Stat(filepath.Join(dir, ".config", "snowbridge", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadUserConfigMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	_, err := LoadUserConfig()
	assert.Error(t, err)
}

func TestActiveProfile(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Account: "AAA"},
			"prod":    {Account: "BBB"},
		},
	}

	assert.Equal(t, "AAA", cfg.ActiveProfile("").Account)
	assert.Equal(t, "BBB", cfg.ActiveProfile("prod").Account)
	assert.Empty(t, cfg.ActiveProfile("missing").Account)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"short", "abc", "****"},
		{"exactly_10", "1234567890", "****"},
		{"long", "correct-horse-battery-staple", "corr****aple"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.input))
		})
	}
}

func TestMaskConfigKeepsConnectionFields(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {
				Account:              "XY12345",
				PrivateKeyPath:       "/keys/rsa_key.p8",
				PrivateKeyPassphrase: "hunter2hunter2",
			},
		},
	}

	masked := maskConfig(cfg)

	assert.Equal(t, "XY12345", masked.Profiles["default"].Account)
	assert.Equal(t, "/keys/rsa_key.p8", masked.Profiles["default"].PrivateKeyPath)
	assert.Contains(t, masked.Profiles["default"].PrivateKeyPassphrase, "****")

	// Original config not mutated.
	assert.Equal(t, "hunter2hunter2", cfg.Profiles["default"].PrivateKeyPassphrase)
}
