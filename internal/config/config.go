// Package config defines the project configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete rehearse configuration
type Config struct {
	Inference InferenceConfig `yaml:"inference"`
	Capture   CaptureConfig   `yaml:"capture"`
	Replay    ReplayConfig    `yaml:"replay"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Runs      RunConfig       `yaml:"runs"`
	Meta      MetaConfig      `yaml:"meta"`
}

// InferenceConfig holds the step-inference provider configuration
type InferenceConfig struct {
	Provider string                 `yaml:"provider"` // openai, anthropic, mock
	APIKey   string                 `yaml:"api_key"`
	Model    string                 `yaml:"model"`
	Endpoint string                 `yaml:"endpoint,omitempty"`
	Settings map[string]interface{} `yaml:"settings,omitempty"`
}

// CaptureConfig holds recording tunables
type CaptureConfig struct {
	// TextGapMS is the maximum gap in milliseconds between key events
	// that still merge into one typed run.
	TextGapMS int `yaml:"text_gap_ms"`
	// PollIntervalMS is how often the collector buffer is drained.
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// ReplayConfig holds replay and verification tunables
type ReplayConfig struct {
	StepRetries      int `yaml:"step_retries"`
	RetryBackoffMS   int `yaml:"retry_backoff_ms"`
	SettleIntervalMS int `yaml:"settle_interval_ms"`
	SettleDeadlineMS int `yaml:"settle_deadline_ms"`
	// ScreenshotDir receives captures taken when a step fails.
	ScreenshotDir string `yaml:"screenshot_dir,omitempty"`
}

// SessionConfig holds execution session settings
type SessionConfig struct {
	Mode           string `yaml:"mode"` // local, cloud
	AcquireWaitMS  int    `yaml:"acquire_wait_ms"`
	CloudEndpoint  string `yaml:"cloud_endpoint,omitempty"`
	CloudAuthToken string `yaml:"cloud_auth_token,omitempty"`
	Headless       bool   `yaml:"headless"`
}

// RunConfig holds run lifecycle settings
type RunConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	TimeoutMS     int `yaml:"timeout_ms"`
	RetentionDays int `yaml:"retention_days"`
}

// MetaConfig tracks configuration metadata
type MetaConfig struct {
	Version   string    `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Default returns a configuration with working defaults
func Default() *Config {
	now := time.Now()
	return &Config{
		Inference: InferenceConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Capture: CaptureConfig{
			TextGapMS:      1500,
			PollIntervalMS: 100,
		},
		Replay: ReplayConfig{
			StepRetries:      3,
			RetryBackoffMS:   500,
			SettleIntervalMS: 150,
			SettleDeadlineMS: 5000,
		},
		Sessions: SessionConfig{
			Mode:          "local",
			AcquireWaitMS: 15000,
			Headless:      false,
		},
		Runs: RunConfig{
			MaxConcurrent: 2,
			TimeoutMS:     10 * 60 * 1000,
			RetentionDays: 30,
		},
		Meta: MetaConfig{
			Version:   "1",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// TextGap returns the typed-run merge gap as a duration
func (c *Config) TextGap() time.Duration {
	return time.Duration(c.Capture.TextGapMS) * time.Millisecond
}

// PollInterval returns the capture drain interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Capture.PollIntervalMS) * time.Millisecond
}

// RunTimeout returns the run wall-clock ceiling as a duration
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Runs.TimeoutMS) * time.Millisecond
}

// AcquireWait returns the session acquisition wait as a duration
func (c *Config) AcquireWait() time.Duration {
	return time.Duration(c.Sessions.AcquireWaitMS) * time.Millisecond
}

// RetryBackoff returns the per-step retry backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Replay.RetryBackoffMS) * time.Millisecond
}

// SettleInterval returns the settle sampling interval as a duration
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.Replay.SettleIntervalMS) * time.Millisecond
}

// SettleDeadline returns the settle wait ceiling as a duration
func (c *Config) SettleDeadline() time.Duration {
	return time.Duration(c.Replay.SettleDeadlineMS) * time.Millisecond
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.Inference.Provider {
	case "openai", "anthropic", "mock":
	case "":
		return fmt.Errorf("inference.provider is required")
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}

	switch c.Sessions.Mode {
	case "local", "cloud":
	default:
		return fmt.Errorf("unknown session mode %q", c.Sessions.Mode)
	}

	if c.Sessions.Mode == "cloud" && c.Sessions.CloudEndpoint == "" {
		return fmt.Errorf("sessions.cloud_endpoint is required in cloud mode")
	}

	if c.Capture.TextGapMS <= 0 {
		return fmt.Errorf("capture.text_gap_ms must be positive")
	}
	if c.Replay.StepRetries < 0 {
		return fmt.Errorf("replay.step_retries must not be negative")
	}
	if c.Runs.MaxConcurrent < 1 {
		return fmt.Errorf("runs.max_concurrent must be at least 1")
	}
	if c.Runs.TimeoutMS <= 0 {
		return fmt.Errorf("runs.timeout_ms must be positive")
	}
	if c.Runs.RetentionDays < 0 {
		return fmt.Errorf("runs.retention_days must not be negative")
	}

	return nil
}
