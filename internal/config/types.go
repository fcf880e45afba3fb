package config

import "github.com/CosmoTheDev/deltascan/models"

// Config is the root configuration structure for deltascan.
// Serialised to ~/.deltascan/config.json.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"  json:"backend"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Git      GitConfig      `mapstructure:"git"      json:"git"`
	Choices  ChoicesConfig  `mapstructure:"choices"  json:"choices"`
	Watch    WatchConfig    `mapstructure:"watch"    json:"watch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  json:"metrics"`
}

// BackendConfig controls how the remote scan backend is driven.
type BackendConfig struct {
	ServerURL string `mapstructure:"server_url" json:"server_url"`
	User      string `mapstructure:"user"       json:"user"`
	APIKey    string `mapstructure:"api_key"    json:"api_key"`
	// TimeoutMinutes bounds how long a scan is polled before giving up.
	TimeoutMinutes int `mapstructure:"timeout_minutes" json:"timeout_minutes"`
	// CommunicationTimeoutSeconds is the per-request HTTP timeout.
	CommunicationTimeoutSeconds int `mapstructure:"communication_timeout_seconds" json:"communication_timeout_seconds"`
	// WaitForResult polls the scan to completion; when false the scan is only triggered.
	WaitForResult bool `mapstructure:"wait_for_result" json:"wait_for_result"`
	// KeepFailedScans disables the deletion of scans created by a failed run.
	KeepFailedScans bool `mapstructure:"keep_failed_scans" json:"keep_failed_scans"`
	DeltaScans      bool `mapstructure:"delta_scans"       json:"delta_scans"`
	// DeltaScanLimit is the maximum number of delta scans kept per branch.
	DeltaScanLimit           int          `mapstructure:"delta_scan_limit"            json:"delta_scan_limit"`
	DetectLicenses           bool         `mapstructure:"detect_licenses"             json:"detect_licenses"`
	DetectCopyrights         bool         `mapstructure:"detect_copyrights"           json:"detect_copyrights"`
	FetchSnippetMatchedLines bool         `mapstructure:"fetch_snippet_matched_lines" json:"fetch_snippet_matched_lines"`
	Naming                   NamingConfig `mapstructure:"naming"                      json:"naming"`
}

// NamingConfig holds the scan and project code patterns.
type NamingConfig struct {
	ProjectPattern string `mapstructure:"project_pattern" json:"project_pattern"`
	ScanPattern    string `mapstructure:"scan_pattern"    json:"scan_pattern"`
	// Variables are user-defined tokens, referenced as #name in the patterns.
	Variables map[string]string `mapstructure:"variables" json:"variables"`
}

// DatabaseConfig controls the storage backend of the run ledger.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// GitConfig holds credentials for each supported git hosting platform.
type GitConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// ChoicesConfig points at the snippet choice file.
type ChoicesConfig struct {
	File string `mapstructure:"file" json:"file"`
}

// WatchConfig controls periodic rescans.
type WatchConfig struct {
	// Schedule is a robfig/cron expression, e.g. "@every 6h".
	Schedule string                 `mapstructure:"schedule" json:"schedule"`
	Workers  int                    `mapstructure:"workers"  json:"workers"`
	Targets  []models.PackageTarget `mapstructure:"targets"  json:"targets"`
}

// MetricsConfig controls the Prometheus endpoint of the watch daemon.
type MetricsConfig struct {
	// Listen is the address for /metrics, e.g. "127.0.0.1:9090". Empty disables it.
	Listen string `mapstructure:"listen" json:"listen"`
}
