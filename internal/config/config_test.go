package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			ServerURL:                   "https://fossid.example.com",
			User:                        "scanner",
			APIKey:                      "secret",
			TimeoutMinutes:              60,
			CommunicationTimeoutSeconds: 30,
			DeltaScans:                  true,
			DeltaScanLimit:              5,
		},
	}
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"backend": {"server_url": "https://fossid.example.com", "delta_scan_limit": 3,
		"naming": {"scan_pattern": "#repositoryName_#currentTimestamp", "variables": {"team": "core"}}},
		"choices": {"file": "~/choices.yml"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://fossid.example.com", cfg.Backend.ServerURL)
	assert.Equal(t, 3, cfg.Backend.DeltaScanLimit)
	assert.Equal(t, 60, cfg.Backend.TimeoutMinutes)
	assert.True(t, cfg.Backend.WaitForResult)
	assert.True(t, cfg.Backend.DeltaScans)
	assert.Equal(t, "#repositoryName_#currentTimestamp", cfg.Backend.Naming.ScanPattern)
	assert.Equal(t, "core", cfg.Backend.Naming.Variables["team"])
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "choices.yml"), cfg.Choices.File)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := validConfig()
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Backend.ServerURL, loaded.Backend.ServerURL)
	assert.Equal(t, cfg.Backend.DeltaScanLimit, loaded.Backend.DeltaScanLimit)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing server", func(c *Config) { c.Backend.ServerURL = "" }, "backend.server_url"},
		{"relative server", func(c *Config) { c.Backend.ServerURL = "fossid" }, "backend.server_url"},
		{"missing key", func(c *Config) { c.Backend.APIKey = "" }, "backend.user"},
		{"zero timeout", func(c *Config) { c.Backend.TimeoutMinutes = 0 }, "backend.timeout_minutes"},
		{"zero retention", func(c *Config) { c.Backend.DeltaScanLimit = 0 }, "backend.delta_scan_limit"},
		{"negative retention", func(c *Config) { c.Backend.DeltaScanLimit = -2 }, "backend.delta_scan_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateIgnoresRetentionWhenDeltaScansDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.DeltaScans = false
	cfg.Backend.DeltaScanLimit = 0
	assert.NoError(t, cfg.Validate())
}
