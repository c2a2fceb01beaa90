package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PublishConfig represents package index settings for the publish step
type PublishConfig struct {
	// UploadURL is the index upload endpoint (legacy file-upload convention)
	UploadURL string `yaml:"upload_url"`

	// SimpleURL is the base URL of the index simple listing, used for
	// duplicate-file checks before uploading
	SimpleURL string `yaml:"simple_url"`

	// TokenURL is the endpoint that exchanges an ambient identity token
	// for a short-lived upload token
	TokenURL string `yaml:"token_url"`

	// IdentityTokenEnv names the environment variable carrying the
	// ambient identity token
	IdentityTokenEnv string `yaml:"identity_token_env"`
}

// ServeConfig represents webhook listener settings
type ServeConfig struct {
	// Addr is the listen address for slipway serve
	Addr string `yaml:"addr"`

	// WebhookSecretEnv names the environment variable carrying the
	// webhook HMAC secret
	WebhookSecretEnv string `yaml:"webhook_secret_env"`

	// MetricsEnabled exposes Prometheus metrics on /metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Config represents slipway configuration options
type Config struct {
	// StepTimeout is the maximum execution time for a single step
	StepTimeout time.Duration `yaml:"step_timeout"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs will be written
	LogDir string `yaml:"log_dir"`

	// CacheDir is where verified toolchain downloads are kept
	CacheDir string `yaml:"cache_dir"`

	// WorkDir is the checkout/build working directory
	WorkDir string `yaml:"work_dir"`

	// DryRun prints the resolved plan without executing steps
	DryRun bool `yaml:"dry_run"`

	// ChecksumRegistry is the path to the sha256 registry file used to
	// verify toolchain downloads
	ChecksumRegistry string `yaml:"checksum_registry"`

	// ToolchainBaseURL is where toolchain archives are downloaded from
	ToolchainBaseURL string `yaml:"toolchain_base_url"`

	// SigningKeyPath is the encrypted artifact signing key location
	SigningKeyPath string `yaml:"signing_key_path"`

	// HistoryPath is the SQLite run history database location
	HistoryPath string `yaml:"history_path"`

	// Publish contains package index settings
	Publish PublishConfig `yaml:"publish"`

	// Serve contains webhook listener settings
	Serve ServeConfig `yaml:"serve"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		StepTimeout:      30 * time.Minute,
		LogLevel:         "info",
		LogDir:           ".slipway/logs",
		CacheDir:         ".slipway/cache",
		WorkDir:          ".slipway/work",
		DryRun:           false,
		ChecksumRegistry: ".slipway/registry.txt",
		SigningKeyPath:   ".slipway/keys/signing.key",
		HistoryPath:      ".slipway/history/runs.db",
		Publish: PublishConfig{
			UploadURL:        "https://upload.pypi.org/legacy/",
			SimpleURL:        "https://pypi.org/simple/",
			TokenURL:         "https://pypi.org/_/oidc/mint-token",
			IdentityTokenEnv: "SLIPWAY_ID_TOKEN",
		},
		Serve: ServeConfig{
			Addr:             ":8642",
			WebhookSecretEnv: "SLIPWAY_WEBHOOK_SECRET",
			MetricsEnabled:   true,
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, return defaults (not an error)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	// Use a temporary struct to handle duration parsing
	type yamlConfig struct {
		StepTimeout      string        `yaml:"step_timeout"`
		LogLevel         string        `yaml:"log_level"`
		LogDir           string        `yaml:"log_dir"`
		CacheDir         string        `yaml:"cache_dir"`
		WorkDir          string        `yaml:"work_dir"`
		DryRun           bool          `yaml:"dry_run"`
		ChecksumRegistry string        `yaml:"checksum_registry"`
		ToolchainBaseURL string        `yaml:"toolchain_base_url"`
		SigningKeyPath   string        `yaml:"signing_key_path"`
		HistoryPath      string        `yaml:"history_path"`
		Publish          PublishConfig `yaml:"publish"`
		Serve            ServeConfig   `yaml:"serve"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.StepTimeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.StepTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid step_timeout format %q: %w", yamlCfg.StepTimeout, err)
		}
		cfg.StepTimeout = timeout
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.CacheDir != "" {
		cfg.CacheDir = yamlCfg.CacheDir
	}
	if yamlCfg.WorkDir != "" {
		cfg.WorkDir = yamlCfg.WorkDir
	}
	if yamlCfg.DryRun {
		cfg.DryRun = yamlCfg.DryRun
	}
	if yamlCfg.ChecksumRegistry != "" {
		cfg.ChecksumRegistry = yamlCfg.ChecksumRegistry
	}
	if yamlCfg.ToolchainBaseURL != "" {
		cfg.ToolchainBaseURL = yamlCfg.ToolchainBaseURL
	}
	if yamlCfg.SigningKeyPath != "" {
		cfg.SigningKeyPath = yamlCfg.SigningKeyPath
	}
	if yamlCfg.HistoryPath != "" {
		cfg.HistoryPath = yamlCfg.HistoryPath
	}

	// Merge nested sections only when they are present in the file, so a
	// config that never mentions them keeps full defaults
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if section, exists := rawMap["publish"]; exists && section != nil {
			publishMap, _ := section.(map[string]interface{})
			if _, ok := publishMap["upload_url"]; ok {
				cfg.Publish.UploadURL = yamlCfg.Publish.UploadURL
			}
			if _, ok := publishMap["simple_url"]; ok {
				cfg.Publish.SimpleURL = yamlCfg.Publish.SimpleURL
			}
			if _, ok := publishMap["token_url"]; ok {
				cfg.Publish.TokenURL = yamlCfg.Publish.TokenURL
			}
			if _, ok := publishMap["identity_token_env"]; ok {
				cfg.Publish.IdentityTokenEnv = yamlCfg.Publish.IdentityTokenEnv
			}
		}
		if section, exists := rawMap["serve"]; exists && section != nil {
			serveMap, _ := section.(map[string]interface{})
			if _, ok := serveMap["addr"]; ok {
				cfg.Serve.Addr = yamlCfg.Serve.Addr
			}
			if _, ok := serveMap["webhook_secret_env"]; ok {
				cfg.Serve.WebhookSecretEnv = yamlCfg.Serve.WebhookSecretEnv
			}
			if _, ok := serveMap["metrics_enabled"]; ok {
				cfg.Serve.MetricsEnabled = yamlCfg.Serve.MetricsEnabled
			}
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .slipway/config.yaml in the
// specified directory. If the directory or file doesn't exist, returns
// default configuration without error.
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".slipway", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(stepTimeout *time.Duration, logLevel *string, logDir *string, workDir *string, dryRun *bool) {
	if stepTimeout != nil {
		c.StepTimeout = *stepTimeout
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if workDir != nil {
		c.WorkDir = *workDir
	}
	if dryRun != nil {
		c.DryRun = *dryRun
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	// StepTimeout can be 0 (no timeout) or positive, negative is invalid
	if c.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must be >= 0, got %v", c.StepTimeout)
	}

	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}

	if c.Serve.Addr == "" {
		return fmt.Errorf("serve.addr cannot be empty")
	}

	return nil
}
