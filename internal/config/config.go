// Package config loads loop configuration from YAML with defaults, CLI
// flag merging, and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// NoProgressThreshold trips the loop after this many consecutive
	// iterations without a completed task.
	NoProgressThreshold int `yaml:"no_progress_threshold"`

	// SameErrorThreshold trips the loop after this many consecutive
	// identical error fingerprints.
	SameErrorThreshold int `yaml:"same_error_threshold"`
}

// RateLimitConfig holds fixed-window invocation limits.
type RateLimitConfig struct {
	// Limit is the number of invocations allowed per window.
	Limit int `yaml:"limit"`

	// Window is the fixed window length.
	Window time.Duration `yaml:"-"`

	// AbortWhenExhausted makes the loop exit (code 2) instead of
	// blocking until the window resets.
	AbortWhenExhausted bool `yaml:"abort_when_exhausted"`
}

// Config represents loop configuration options.
type Config struct {
	// AgentCommand is the external agent binary.
	AgentCommand string `yaml:"agent_command"`

	// AgentArgs are baseline arguments for every invocation.
	AgentArgs []string `yaml:"agent_args"`

	// IterationTimeout bounds each agent invocation.
	IterationTimeout time.Duration `yaml:"-"`

	// MaxIterations bounds the whole run.
	MaxIterations int `yaml:"max_iterations"`

	// VerifyCommand, when set, is run as a post-iteration quality gate
	// after any completion transition (e.g. "go test ./..."). A non-zero
	// exit undoes the transition and becomes VERIFICATION_FAILED
	// feedback for the next iteration.
	VerifyCommand string `yaml:"verify_command"`

	// ArchiveRoot is where completed workspaces are archived.
	ArchiveRoot string `yaml:"archive_root"`

	// LogLevel sets console verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// ProgressContext is how many recent progress records go into each
	// prompt.
	ProgressContext int `yaml:"progress_context"`

	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		AgentCommand:     "claude",
		IterationTimeout: 15 * time.Minute,
		MaxIterations:    100,
		ArchiveRoot:      "archive",
		LogLevel:         "info",
		ProgressContext:  10,
		Breaker: BreakerConfig{
			NoProgressThreshold: 3,
			SameErrorThreshold:  5,
		},
		RateLimit: RateLimitConfig{
			Limit:  100,
			Window: time.Hour,
		},
	}
}

// LoadConfig loads configuration from the given path, merged over the
// defaults. A missing file returns the defaults without error; a
// malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are written as strings in YAML.
	type yamlRateLimit struct {
		Limit              int    `yaml:"limit"`
		Window             string `yaml:"window"`
		AbortWhenExhausted bool   `yaml:"abort_when_exhausted"`
	}
	type yamlConfig struct {
		AgentCommand     string        `yaml:"agent_command"`
		AgentArgs        []string      `yaml:"agent_args"`
		IterationTimeout string        `yaml:"iteration_timeout"`
		MaxIterations    int           `yaml:"max_iterations"`
		VerifyCommand    string        `yaml:"verify_command"`
		ArchiveRoot      string        `yaml:"archive_root"`
		LogLevel         string        `yaml:"log_level"`
		ProgressContext  int           `yaml:"progress_context"`
		Breaker          BreakerConfig `yaml:"breaker"`
		RateLimit        yamlRateLimit `yaml:"rate_limit"`
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.AgentCommand != "" {
		cfg.AgentCommand = yc.AgentCommand
	}
	if len(yc.AgentArgs) > 0 {
		cfg.AgentArgs = yc.AgentArgs
	}
	if yc.IterationTimeout != "" {
		d, err := time.ParseDuration(yc.IterationTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid iteration_timeout %q: %w", yc.IterationTimeout, err)
		}
		cfg.IterationTimeout = d
	}
	if yc.MaxIterations != 0 {
		cfg.MaxIterations = yc.MaxIterations
	}
	if yc.VerifyCommand != "" {
		cfg.VerifyCommand = yc.VerifyCommand
	}
	if yc.ArchiveRoot != "" {
		cfg.ArchiveRoot = yc.ArchiveRoot
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.ProgressContext != 0 {
		cfg.ProgressContext = yc.ProgressContext
	}
	if yc.Breaker.NoProgressThreshold != 0 {
		cfg.Breaker.NoProgressThreshold = yc.Breaker.NoProgressThreshold
	}
	if yc.Breaker.SameErrorThreshold != 0 {
		cfg.Breaker.SameErrorThreshold = yc.Breaker.SameErrorThreshold
	}
	if yc.RateLimit.Limit != 0 {
		cfg.RateLimit.Limit = yc.RateLimit.Limit
	}
	if yc.RateLimit.Window != "" {
		d, err := time.ParseDuration(yc.RateLimit.Window)
		if err != nil {
			return nil, fmt.Errorf("invalid rate_limit.window %q: %w", yc.RateLimit.Window, err)
		}
		cfg.RateLimit.Window = d
	}
	if yc.RateLimit.AbortWhenExhausted {
		cfg.RateLimit.AbortWhenExhausted = true
	}

	return cfg, nil
}

// MergeWithFlags merges CLI flag values into the configuration. Non-nil
// values override config file settings.
func (c *Config) MergeWithFlags(maxIterations *int, timeout *time.Duration, logLevel *string, archiveRoot *string) {
	if maxIterations != nil {
		c.MaxIterations = *maxIterations
	}
	if timeout != nil {
		c.IterationTimeout = *timeout
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if archiveRoot != nil {
		c.ArchiveRoot = *archiveRoot
	}
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if c.AgentCommand == "" {
		return fmt.Errorf("agent_command cannot be empty")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0, got %d", c.MaxIterations)
	}
	if c.IterationTimeout < 0 {
		return fmt.Errorf("iteration_timeout must be >= 0, got %v", c.IterationTimeout)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.Breaker.NoProgressThreshold < 0 || c.Breaker.SameErrorThreshold < 0 {
		return fmt.Errorf("breaker thresholds must be >= 0")
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must be >= 0, got %d", c.RateLimit.Limit)
	}
	if c.ProgressContext <= 0 {
		return fmt.Errorf("progress_context must be > 0, got %d", c.ProgressContext)
	}
	return nil
}
