// Package config persists installation-wide settings: the active account
// pointer, per-account credentials paths, and tuning knobs for the request
// execution layer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configDirName  = "workspace-cli"
	configFileName = "config.toml"

	configDirMode  = 0o700
	configFileMode = 0o600

	tempFilePattern = ".config-*.toml.tmp"
)

// DefaultAccount is the account identifier used when none is configured.
const DefaultAccount = "default"

// AccountConfig holds per-account settings remembered at login time.
type AccountConfig struct {
	// CredentialsPath is the OAuth client credentials file used at the
	// account's most recent login.
	CredentialsPath string `toml:"credentials_path,omitempty"`
}

// RetryConfig tunes the retry policy for API calls.
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `toml:"base_delay,omitempty"`
	MaxDelay    time.Duration `toml:"max_delay,omitempty"`
}

// RateLimitConfig overrides the built-in quota for one service.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Config is the persisted installation configuration.
type Config struct {
	// ActiveAccount is the account used when no explicit account is supplied.
	ActiveAccount string `toml:"active_account,omitempty"`

	// CredentialsPath is the global fallback OAuth credentials file.
	CredentialsPath string `toml:"credentials_path,omitempty"`

	Accounts map[string]AccountConfig `toml:"accounts,omitempty"`

	HTTPTimeout time.Duration              `toml:"http_timeout,omitempty"`
	Retry       RetryConfig                `toml:"retry,omitempty"`
	RateLimits  map[string]RateLimitConfig `toml:"rate_limits,omitempty"`

	path string `toml:"-"`
}

// Dir returns the configuration directory, honouring WORKSPACE_CLI_CONFIG_DIR.
func Dir() (string, error) {
	if dir := os.Getenv("WORKSPACE_CLI_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config directory: %w", err)
	}
	return filepath.Join(base, configDirName), nil
}

// Load reads the configuration from the default location. A missing file is
// not an error; it yields a default configuration that can be saved later.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, configFileName))
}

// LoadFrom reads the configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ActiveAccount == "" {
		c.ActiveAccount = DefaultAccount
	}
	if c.Accounts == nil {
		c.Accounts = make(map[string]AccountConfig)
	}
	if c.RateLimits == nil {
		c.RateLimits = make(map[string]RateLimitConfig)
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	c.applyEnvOverrides()
}

// applyEnvOverrides lets operators tune the execution layer without editing
// the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WORKSPACE_CLI_CREDENTIALS_PATH"); v != "" {
		c.CredentialsPath = v
	}
	if v := os.Getenv("WORKSPACE_CLI_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("WORKSPACE_CLI_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.HTTPTimeout = d
		}
	}
}

// Save writes the configuration atomically: write to a temp file in the same
// directory, then rename over the destination.
func (c *Config) Save() error {
	if c.path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(dir, configFileName)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(configFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// SetActiveAccount rewrites the active account pointer.
func (c *Config) SetActiveAccount(account string) {
	c.ActiveAccount = account
}

// RememberAccount records the credentials path used for an account login.
func (c *Config) RememberAccount(account, credentialsPath string) {
	ac := c.Accounts[account]
	ac.CredentialsPath = credentialsPath
	c.Accounts[account] = ac
}

// ForgetAccount removes an account's entry; clearing the active pointer if it
// referenced the removed account.
func (c *Config) ForgetAccount(account string) {
	delete(c.Accounts, account)
	if c.ActiveAccount == account {
		c.ActiveAccount = DefaultAccount
	}
}

// CredentialsPathFor resolves the credentials file for an account: explicit
// per-account entry first, then the global path, then conventional locations.
func (c *Config) CredentialsPathFor(account string) string {
	if ac, ok := c.Accounts[account]; ok && ac.CredentialsPath != "" {
		return ac.CredentialsPath
	}
	if c.CredentialsPath != "" {
		return c.CredentialsPath
	}

	candidates := []string{"credentials.json"}
	if dir, err := Dir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "credentials.json"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, "credentials.json"),
			filepath.Join(home, ".credentials.json"),
		)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Path returns where the configuration is (or will be) stored.
func (c *Config) Path() string {
	return c.path
}
