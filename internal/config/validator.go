package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	// Example: 123456789:ABCdefGHIjklMNOpqrsTUVwxyz
	pattern := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	if !pattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateDMPolicy validates Telegram DM policy
func (v *Validator) ValidateDMPolicy(policy string) error {
	if policy == "" {
		return nil // Use default
	}

	validPolicies := []string{"open", "allowlist", "disabled"}
	for _, valid := range validPolicies {
		if policy == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid DM policy: %s (must be one of: %s)", policy, strings.Join(validPolicies, ", "))
}

// ValidateCompletionKeyword validates the collection completion keyword
func (v *Validator) ValidateCompletionKeyword(keyword string) error {
	if strings.TrimSpace(keyword) == "" {
		return fmt.Errorf("completion keyword cannot be empty")
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

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateDMPolicy(cfg.Telegram.DMPolicy); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateCompletionKeyword(cfg.Collage.CompletionKeyword); err != nil {
		errors = append(errors, err)
	}
	if cfg.Collage.DebounceMS <= 0 {
		errors = append(errors, fmt.Errorf("collage debounce_ms must be positive"))
	}
	if cfg.Collage.MinImages < 2 {
		errors = append(errors, fmt.Errorf("collage min_images must be at least 2"))
	}

	if cfg.Render.MaxAttempts < 1 {
		errors = append(errors, fmt.Errorf("render max_attempts must be at least 1"))
	}
	if cfg.Render.RetryBackoffMS < 0 {
		errors = append(errors, fmt.Errorf("render retry_backoff_ms must be >= 0"))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
