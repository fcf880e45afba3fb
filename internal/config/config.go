package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".deltascan"
	DefaultConfigFile = "config.json"
	DefaultDBFile     = ".deltascan/deltascan.db"
)

// Load reads the config file and returns a populated Config. A missing file
// yields the defaults. The configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("DELTASCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	path, err := ConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Validate checks the settings that must fail fast instead of being defaulted.
func (c *Config) Validate() error {
	b := c.Backend
	if b.ServerURL == "" {
		return Errorf("backend.server_url", "must be set")
	}
	if u, err := url.Parse(b.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Errorf("backend.server_url", "%q is not an absolute URL", b.ServerURL)
	}
	if b.User == "" || b.APIKey == "" {
		return Errorf("backend.user", "user and api_key must both be set")
	}
	if b.TimeoutMinutes <= 0 {
		return Errorf("backend.timeout_minutes", "must be positive, got %d", b.TimeoutMinutes)
	}
	if b.CommunicationTimeoutSeconds <= 0 {
		return Errorf("backend.communication_timeout_seconds", "must be positive, got %d", b.CommunicationTimeoutSeconds)
	}
	if b.DeltaScans && b.DeltaScanLimit <= 0 {
		return Errorf("backend.delta_scan_limit", "must be positive when delta scans are enabled, got %d", b.DeltaScanLimit)
	}
	if c.Watch.Workers < 0 {
		return Errorf("watch.workers", "must not be negative")
	}
	return nil
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("backend.server_url", "")
	v.SetDefault("backend.timeout_minutes", 60)
	v.SetDefault("backend.communication_timeout_seconds", 60)
	v.SetDefault("backend.wait_for_result", true)
	v.SetDefault("backend.keep_failed_scans", false)
	v.SetDefault("backend.delta_scans", true)
	v.SetDefault("backend.delta_scan_limit", 5)
	v.SetDefault("backend.detect_licenses", true)
	v.SetDefault("backend.detect_copyrights", true)
	v.SetDefault("backend.fetch_snippet_matched_lines", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")

	v.SetDefault("watch.schedule", "@every 6h")
	v.SetDefault("watch.workers", 2)
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Choices.File = expandHome(cfg.Choices.File, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
