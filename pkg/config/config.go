package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

type Config struct {
	// ServerURL is the ledger service origin (http or https). The push
	// channel target is derived from it: ws for http, wss for https.
	ServerURL string `toml:"server_url"`

	// StorageDir holds the session state database.
	StorageDir string `toml:"storage_dir"`

	// Reconnect backoff tuning.
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`

	// StableResetAfter is how long a connection must stay up before the
	// backoff delay resets to the initial value.
	StableResetAfter Duration `toml:"stable_reset_after"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() (*Config, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return nil, fmt.Errorf("getting default storage directory: %w", err)
	}
	return &Config{
		ServerURL:        "http://localhost:8080",
		StorageDir:       storageDir,
		InitialBackoff:   Duration{time.Second},
		MaxBackoff:       Duration{30 * time.Second},
		StableResetAfter: Duration{time.Minute},
	}, nil
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return nil, fmt.Errorf("getting default storage directory: %w", err)
		}
		config.StorageDir = storageDir
	}

	if config.ServerURL == "" {
		config.ServerURL = "http://localhost:8080"
	}
	if err := validateServerURL(config.ServerURL); err != nil {
		return nil, err
	}

	if config.InitialBackoff.Duration <= 0 {
		config.InitialBackoff = Duration{time.Second}
	}
	if config.MaxBackoff.Duration < config.InitialBackoff.Duration {
		config.MaxBackoff = Duration{30 * time.Second}
	}
	if config.StableResetAfter.Duration <= 0 {
		config.StableResetAfter = Duration{time.Minute}
	}

	return &config, nil
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server_url %q (must be http:// or https://)", raw)
	}
	return nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0644)
}

func (c *Config) generateConfigTemplate() (string, error) {
	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		storageDir, err = GetDefaultStorageDir()
		if err != nil {
			return "", fmt.Errorf("getting default storage directory: %w", err)
		}
	}

	// Replace the placeholder storage_dir with the actual path
	template := strings.Replace(configTemplate, "/home/user/.local/share/ledgerscope", storageDir, 1)
	return template, nil
}

// GetDefaultStorageDir returns the default storage directory for the state database
func GetDefaultStorageDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	scopeDir := filepath.Join(dataDir, "ledgerscope")

	// Create the directory if it doesn't exist
	if err := os.MkdirAll(scopeDir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", scopeDir, err)
	}

	return scopeDir, nil
}

// GetDefaultDBPath returns the default state database path in the user's data directory
func GetDefaultDBPath() (string, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(storageDir, "state.db"), nil
}

// GetConfigDir returns the configuration directory for ledgerscope
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	scopeConfigDir := filepath.Join(configDir, "ledgerscope")

	// Create the directory if it doesn't exist
	if err := os.MkdirAll(scopeConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", scopeConfigDir, err)
	}

	return scopeConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
