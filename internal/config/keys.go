// Package config provides API key management utilities.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ErrNoSearchAPIKey is returned when the search provider has no key.
var ErrNoSearchAPIKey = errors.New("no search API key configured")

// providerEnv maps each search provider to its conventional environment variable.
var providerEnv = map[string]string{
	ProviderTavily: "TAVILY_API_KEY",
	ProviderSerper: "SERPER_API_KEY",
	ProviderBrave:  "BRAVE_API_KEY",
}

// GetAPIKey returns the Anthropic API key from the configuration.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil {
		if key := resolved(cfg.Anthropic.APIKey); key != "" {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// GetSearchAPIKey returns the key for the configured search provider.
// It checks in order: DELVE_SEARCH_API_KEY, config file, the provider's own
// variable (TAVILY_API_KEY, SERPER_API_KEY, BRAVE_API_KEY).
func GetSearchAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("DELVE_SEARCH_API_KEY"); key != "" {
		return key, nil
	}

	provider := ProviderTavily
	if cfg != nil {
		if key := resolved(cfg.Search.APIKey); key != "" {
			return key, nil
		}
		if cfg.Search.Provider != "" {
			provider = cfg.Search.Provider
		}
	}

	if env, ok := providerEnv[provider]; ok {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("%w: set %s or DELVE_SEARCH_API_KEY", ErrNoSearchAPIKey, env)
	}
	return "", ErrNoSearchAPIKey
}

func resolved(key string) string {
	key = os.ExpandEnv(key)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	// Anthropic API keys start with "sk-ant-"
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}

	if cfg != nil && resolved(cfg.Anthropic.APIKey) != "" {
		return KeySourceConfig
	}

	return KeySourceNone
}
