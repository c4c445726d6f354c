package userconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName  = "photoreview"
	configFileName = "config.json"
)

// UserConfig represents the user's local configuration stored in ~/.config/photoreview/config.json
type UserConfig struct {
	DirectusURL string `json:"directus_url"`
	Email       string `json:"email,omitempty"`
}

// GetConfigPath returns the path to the user config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", configDirName)
	return filepath.Join(configDir, configFileName), nil
}

// Load reads the user configuration file
func Load() (*UserConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// If config doesn't exist, return empty config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return &UserConfig{}, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var cfg UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the user configuration to a file
func Save(cfg *UserConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Create config directory if it doesn't exist
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	// Replace atomically; CreateTemp makes the file 0600
	tmp, err := os.CreateTemp(configDir, configFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("failed to replace user config file: %w", err)
	}

	return nil
}

// SetLastLogin records the backend and account of the last successful login
func SetLastLogin(directusURL, email string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	cfg.DirectusURL = directusURL
	cfg.Email = email
	return Save(cfg)
}

// GetDirectusURL returns the remembered Directus URL, or empty string if not set
func GetDirectusURL() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}

	return cfg.DirectusURL, nil
}
