// Package cli holds profile configuration and output formatting for the
// querygate command-line client.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultProfile = "local"
)

// Config represents the CLI configuration
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile is one named server target.
type Profile struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries *int          `yaml:"max_retries,omitempty"`
}

// GetConfigPath returns the path to the config file. QUERYGATE_CONFIG overrides
// the default location.
func GetConfigPath() (string, error) {
	if p := os.Getenv("QUERYGATE_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".querygate", "config.yaml"), nil
}

// LoadConfig loads the configuration from file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{
				DefaultProfile: DefaultProfile,
				Profiles:       make(map[string]Profile),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ResolveProfile returns the effective profile and its name.
// Priority: --base-url flag > QUERYGATE_BASE_URL > config file > DefaultBaseURL.
// A profile named explicitly must exist in the config file.
func ResolveProfile(profileName, baseURLFlag string) (*Profile, string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}

	explicit := profileName != ""
	if !explicit {
		profileName = cfg.DefaultProfile
		if profileName == "" {
			profileName = DefaultProfile
		}
	}

	profile, ok := cfg.Profiles[profileName]
	if !ok && explicit {
		return nil, "", fmt.Errorf("profile '%s' not found in config", profileName)
	}

	if baseURLFlag != "" {
		profile.BaseURL = baseURLFlag
	} else if env := os.Getenv("QUERYGATE_BASE_URL"); env != "" {
		profile.BaseURL = env
	}
	if profile.BaseURL == "" {
		profile.BaseURL = DefaultBaseURL
	}

	return &profile, profileName, nil
}

// InitConfig creates a default config file
func InitConfig() error {
	retries := 3
	cfg := &Config{
		DefaultProfile: DefaultProfile,
		Profiles: map[string]Profile{
			"local": {
				BaseURL: DefaultBaseURL,
			},
			"staging": {
				BaseURL:    "https://querygate.staging.example.com",
				Timeout:    30 * time.Second,
				MaxRetries: &retries,
			},
		},
	}

	return SaveConfig(cfg)
}
