package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here; validation
// accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Exports.File == "" && cfg.Exports.Dir == "" {
		return fmt.Errorf("exports: file or dir must be configured")
	}

	// Only the selected store section must decode; the others may hold
	// placeholders
	switch cfg.Store.Type {
	case "memory":
		if _, err := decodeMemoryConfig(cfg.Store.Memory); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	case "badger":
		if _, err := decodeBadgerConfig(cfg.Store.Badger); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics: invalid listen address %q: %w", cfg.Metrics.Listen, err)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
