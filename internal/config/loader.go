package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".rehearse"
	GlobalConfigDir = ".config/rehearse"
)

// Loader handles configuration loading and discovery
type Loader struct {
	startDir string
}

// NewLoader creates a new config loader starting from the given directory
func NewLoader(startDir string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}

	return &Loader{
		startDir: startDir,
	}
}

// Load loads the configuration with environment variable overrides
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.findConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	config, err := l.loadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if err := l.applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// findConfigFile searches upward from the start directory for a config file
func (l *Loader) findConfigFile() (string, error) {
	dir := l.startDir

	for {
		configPath := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(homeDir, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched upward from %s)", l.startDir)
}

// loadFromFile loads configuration from a YAML file
func (l *Loader) loadFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func (l *Loader) applyEnvOverrides(config *Config) error {
	// REHEARSE_API_KEY wins, then the provider's conventional variable.
	if apiKey := os.Getenv("REHEARSE_API_KEY"); apiKey != "" {
		config.Inference.APIKey = apiKey
	} else if config.Inference.APIKey == "" {
		switch config.Inference.Provider {
		case "openai":
			config.Inference.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			config.Inference.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if provider := os.Getenv("REHEARSE_PROVIDER"); provider != "" {
		config.Inference.Provider = provider
	}
	if model := os.Getenv("REHEARSE_MODEL"); model != "" {
		config.Inference.Model = model
	}
	if endpoint := os.Getenv("REHEARSE_ENDPOINT"); endpoint != "" {
		config.Inference.Endpoint = endpoint
	}

	if mode := os.Getenv("REHEARSE_SESSION_MODE"); mode != "" {
		config.Sessions.Mode = mode
	}
	if endpoint := os.Getenv("REHEARSE_CLOUD_ENDPOINT"); endpoint != "" {
		config.Sessions.CloudEndpoint = endpoint
	}
	if token := os.Getenv("REHEARSE_CLOUD_TOKEN"); token != "" {
		config.Sessions.CloudAuthToken = token
	}
	if headless := os.Getenv("REHEARSE_HEADLESS"); headless != "" {
		v, err := strconv.ParseBool(headless)
		if err != nil {
			return fmt.Errorf("invalid REHEARSE_HEADLESS value %q", headless)
		}
		config.Sessions.Headless = v
	}

	if maxRuns := os.Getenv("REHEARSE_MAX_CONCURRENT"); maxRuns != "" {
		v, err := strconv.Atoi(maxRuns)
		if err != nil {
			return fmt.Errorf("invalid REHEARSE_MAX_CONCURRENT value %q", maxRuns)
		}
		config.Runs.MaxConcurrent = v
	}

	return nil
}

// Save saves the configuration to the specified path
func (l *Loader) Save(config *Config, configPath string) error {
	config.Meta.UpdatedAt = time.Now()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path where a config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}

// IsInitialized checks if a config file exists in the project hierarchy
func (l *Loader) IsInitialized() bool {
	_, err := l.findConfigFile()
	return err == nil
}

// GetProjectRoot returns the root directory containing the .rehearse folder
func (l *Loader) GetProjectRoot() (string, error) {
	configPath, err := l.findConfigFile()
	if err != nil {
		return "", err
	}

	return filepath.Dir(filepath.Dir(configPath)), nil
}
