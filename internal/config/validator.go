package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateName validates an agent name used to build file paths
func (v *Validator) ValidateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.Contains(name, "\x00") {
		return fmt.Errorf("%s %q must not contain path elements", field, name)
	}
	return nil
}

// ValidateProvider validates the completion provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"openai", "anthropic"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePositiveDuration validates a duration that must be > 0
func (v *Validator) ValidatePositiveDuration(field string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, d)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateName("agent name", cfg.Agent.Name); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateName("peer name", cfg.Agent.Peer); err != nil {
		errs = append(errs, err)
	}
	if cfg.Agent.Name != "" && cfg.Agent.Name == cfg.Agent.Peer {
		errs = append(errs, fmt.Errorf("agent and peer must have different names"))
	}
	if strings.TrimSpace(cfg.Agent.Voice) == "" {
		errs = append(errs, fmt.Errorf("voice is required"))
	}
	if strings.TrimSpace(cfg.Agent.ChatDir) == "" {
		errs = append(errs, fmt.Errorf("chat directory is required"))
	}

	if err := v.ValidateProvider(cfg.Completion.Provider); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Completion.Model) == "" {
		errs = append(errs, fmt.Errorf("completion model is required"))
	}
	if err := v.ValidateTemperature(cfg.Completion.Temperature); err != nil {
		errs = append(errs, err)
	}
	if cfg.Completion.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("completion max_tokens must be positive"))
	}
	if cfg.Completion.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("completion max_retries must be >= 0"))
	}

	if err := v.ValidatePositiveDuration("follow backoff", cfg.Follow.Backoff); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidatePositiveDuration("follow poll_interval", cfg.Follow.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.Playback.Enabled && strings.TrimSpace(cfg.Playback.Command) == "" {
		errs = append(errs, fmt.Errorf("playback command is required when playback is enabled"))
	}
	if cfg.Transcript.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("transcript history_limit must be >= 0"))
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.StartupDelay < 0 {
		errs = append(errs, fmt.Errorf("startup_delay must be >= 0"))
	}
	if cfg.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("max_turns must be >= 0"))
	}

	return errs
}
